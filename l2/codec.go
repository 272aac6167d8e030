package l2

import "github.com/dsa-platform/rtl8365mb/internal/field"

// L2 table entries are six 16-bit words. Unicast and multicast entries share
// the MAC and VID key layout but differ in the rest.
const entryWords = 6

// Unicast entry layout.
const (
	ucD0MAC5Mask    = 0x00FF
	ucD0MAC4Mask    = 0xFF00
	ucD1MAC3Mask    = 0x00FF
	ucD1MAC2Mask    = 0xFF00
	ucD2MAC1Mask    = 0x00FF
	ucD2MAC0Mask    = 0xFF00
	ucD3VIDMask     = 0x0FFF
	ucD3IVLMask     = 0x2000
	ucD3PortExtMask = 0x8000
	ucD4EFIDMask    = 0x0007
	ucD4FIDMask     = 0x0078
	ucD4SAPriMask   = 0x0080
	ucD4PortMask    = 0x0700
	ucD4AgeMask     = 0x3800
	ucD4AuthMask    = 0x4000
	ucD4SABlockMask = 0x8000
	ucD5DABlockMask = 0x0001
	ucD5PriMask     = 0x000E
	ucD5FwdPriMask  = 0x0010
	ucD5StaticMask  = 0x0020
)

// Multicast entry layout.
const (
	mcD3MbrExt1Mask  = 0xC000
	mcD4MbrMask      = 0x00FF
	mcD4IGMPIdxMask  = 0xFF00
	mcD5IGMPASICMask = 0x0001
	mcD5PriMask      = 0x000E
	mcD5FwdPriMask   = 0x0010
	mcD5StaticMask   = 0x0020
	mcD5MbrExt2Mask  = 0x0080
)

// UCKey identifies a unicast entry. The filter IDs select the learning
// domain: FID with shared learning, VID itself with independent learning.
type UCKey struct {
	MAC  [6]byte
	VID  uint16
	IVL  bool
	FID  uint8
	EFID uint8
}

// UC is a unicast entry of the forwarding database.
type UC struct {
	Key UCKey
	// Port the address was learned on or pinned to, 0~10.
	Port uint8
	// Age of a dynamic entry; zero with Static unset means the slot is
	// dead.
	Age      uint8
	Auth     bool
	SAPri    bool
	FwdPri   bool
	SABlock  bool
	DABlock  bool
	Priority uint8
	Static   bool
}

func (u *UC) pack() [entryWords]uint16 {
	var d [entryWords]uint16

	d[0] |= field.Prep(ucD0MAC5Mask, uint16(u.Key.MAC[5]))
	d[0] |= field.Prep(ucD0MAC4Mask, uint16(u.Key.MAC[4]))
	d[1] |= field.Prep(ucD1MAC3Mask, uint16(u.Key.MAC[3]))
	d[1] |= field.Prep(ucD1MAC2Mask, uint16(u.Key.MAC[2]))
	d[2] |= field.Prep(ucD2MAC1Mask, uint16(u.Key.MAC[1]))
	d[2] |= field.Prep(ucD2MAC0Mask, uint16(u.Key.MAC[0]))
	d[3] |= field.Prep(ucD3VIDMask, u.Key.VID)
	d[3] |= field.Prep(ucD3IVLMask, boolBit(u.Key.IVL))
	d[3] |= field.Prep(ucD3PortExtMask, uint16(u.Port)>>3)
	d[4] |= field.Prep(ucD4FIDMask, uint16(u.Key.FID))
	d[4] |= field.Prep(ucD4EFIDMask, uint16(u.Key.EFID))
	d[4] |= field.Prep(ucD4AgeMask, uint16(u.Age))
	d[4] |= field.Prep(ucD4AuthMask, boolBit(u.Auth))
	d[4] |= field.Prep(ucD4PortMask, uint16(u.Port))
	d[4] |= field.Prep(ucD4SAPriMask, boolBit(u.SAPri))
	d[4] |= field.Prep(ucD4SABlockMask, boolBit(u.SABlock))
	d[5] |= field.Prep(ucD5FwdPriMask, boolBit(u.FwdPri))
	d[5] |= field.Prep(ucD5DABlockMask, boolBit(u.DABlock))
	d[5] |= field.Prep(ucD5PriMask, uint16(u.Priority))
	d[5] |= field.Prep(ucD5StaticMask, boolBit(u.Static))

	return d
}

func unpackUC(d [entryWords]uint16) UC {
	var u UC

	u.Key.MAC[5] = uint8(field.Get(ucD0MAC5Mask, d[0]))
	u.Key.MAC[4] = uint8(field.Get(ucD0MAC4Mask, d[0]))
	u.Key.MAC[3] = uint8(field.Get(ucD1MAC3Mask, d[1]))
	u.Key.MAC[2] = uint8(field.Get(ucD1MAC2Mask, d[1]))
	u.Key.MAC[1] = uint8(field.Get(ucD2MAC1Mask, d[2]))
	u.Key.MAC[0] = uint8(field.Get(ucD2MAC0Mask, d[2]))
	u.Key.EFID = uint8(field.Get(ucD4EFIDMask, d[4]))
	u.Key.VID = field.Get(ucD3VIDMask, d[3])
	u.Key.IVL = field.Bit(ucD3IVLMask, d[3])
	u.Key.FID = uint8(field.Get(ucD4FIDMask, d[4]))
	u.Age = uint8(field.Get(ucD4AgeMask, d[4]))
	u.Auth = field.Bit(ucD4AuthMask, d[4])
	u.Port = uint8(field.Get(ucD4PortMask, d[4]) |
		field.Get(ucD3PortExtMask, d[3])<<3)
	u.SAPri = field.Bit(ucD4SAPriMask, d[4])
	u.FwdPri = field.Bit(ucD5FwdPriMask, d[5])
	u.SABlock = field.Bit(ucD4SABlockMask, d[4])
	u.DABlock = field.Bit(ucD5DABlockMask, d[5])
	u.Priority = uint8(field.Get(ucD5PriMask, d[5]))
	u.Static = field.Bit(ucD5StaticMask, d[5])

	return u
}

// MCKey identifies a multicast entry.
type MCKey struct {
	MAC [6]byte
	VID uint16
	IVL bool
}

// MC is a multicast entry of the forwarding database. Multicast entries are
// always stored as static: they are never learned or aged by the chip.
type MC struct {
	Key MCKey
	// Member is the 11-bit mask of ports in the group.
	Member   uint16
	IGMPIdx  uint8
	IGMPASIC bool
	Priority uint8
	FwdPri   bool
	Static   bool
}

func (m *MC) pack() [entryWords]uint16 {
	var d [entryWords]uint16

	d[0] |= field.Prep(ucD0MAC5Mask, uint16(m.Key.MAC[5]))
	d[0] |= field.Prep(ucD0MAC4Mask, uint16(m.Key.MAC[4]))
	d[1] |= field.Prep(ucD1MAC3Mask, uint16(m.Key.MAC[3]))
	d[1] |= field.Prep(ucD1MAC2Mask, uint16(m.Key.MAC[2]))
	d[2] |= field.Prep(ucD2MAC1Mask, uint16(m.Key.MAC[1]))
	d[2] |= field.Prep(ucD2MAC0Mask, uint16(m.Key.MAC[0]))
	d[3] |= field.Prep(ucD3VIDMask, m.Key.VID)
	d[3] |= field.Prep(ucD3IVLMask, boolBit(m.Key.IVL))
	d[3] |= field.Prep(mcD3MbrExt1Mask, m.Member>>8)
	d[4] |= field.Prep(mcD4MbrMask, m.Member)
	d[4] |= field.Prep(mcD4IGMPIdxMask, uint16(m.IGMPIdx))
	d[5] |= field.Prep(mcD5IGMPASICMask, boolBit(m.IGMPASIC))
	d[5] |= field.Prep(mcD5PriMask, uint16(m.Priority))
	d[5] |= field.Prep(mcD5FwdPriMask, boolBit(m.FwdPri))
	d[5] |= field.Prep(mcD5StaticMask, 1)
	d[5] |= field.Prep(mcD5MbrExt2Mask, m.Member>>10)

	return d
}

func unpackMC(d [entryWords]uint16) MC {
	var m MC

	m.Key.MAC[5] = uint8(field.Get(ucD0MAC5Mask, d[0]))
	m.Key.MAC[4] = uint8(field.Get(ucD0MAC4Mask, d[0]))
	m.Key.MAC[3] = uint8(field.Get(ucD1MAC3Mask, d[1]))
	m.Key.MAC[2] = uint8(field.Get(ucD1MAC2Mask, d[1]))
	m.Key.MAC[1] = uint8(field.Get(ucD2MAC1Mask, d[2]))
	m.Key.MAC[0] = uint8(field.Get(ucD2MAC0Mask, d[2]))
	m.Key.VID = field.Get(ucD3VIDMask, d[3])
	m.Key.IVL = field.Bit(ucD3IVLMask, d[3])
	m.Priority = uint8(field.Get(mcD5PriMask, d[5]))
	m.FwdPri = field.Bit(mcD5FwdPriMask, d[5])
	m.Static = field.Bit(mcD5StaticMask, d[5])
	m.Member = field.Get(mcD4MbrMask, d[4]) |
		field.Get(mcD3MbrExt1Mask, d[3])<<8 |
		field.Get(mcD5MbrExt2Mask, d[5])<<10
	m.IGMPIdx = uint8(field.Get(mcD4IGMPIdxMask, d[4]))
	m.IGMPASIC = field.Bit(mcD5IGMPASICMask, d[5])

	return m
}

func isMulticast(mac [6]byte) bool {
	return mac[0]&0x01 != 0
}

func boolBit(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}
