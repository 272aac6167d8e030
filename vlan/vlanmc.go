package vlan

import (
	"fmt"

	"github.com/dsa-platform/rtl8365mb/internal/field"
)

// NumMemberConfigs is the size of the VLAN membership configuration
// database. Unlike the VLAN4k table it holds only 32 entries, so slots are
// allocated and refcounted.
const NumMemberConfigs = 32

// VLAN member configuration registers 0~31, four 16-bit registers each.
const (
	// MemberConfigBase is the register address of member config 0.
	MemberConfigBase = 0x0728

	mcD0MbrMask       = 0x07FF
	mcD1FIDMask       = 0x000F
	mcD2MeterIdxMask  = 0x07E0
	mcD2EnVlanPolMask = 0x0010
	mcD2VBPriMask     = 0x000E
	mcD2VBPEnMask     = 0x0001
	mcD3EVIDMask      = 0x1FFF

	vlanmcWords = 4
)

// MemberConfigReg returns the first register address of the member config at
// the given index.
func MemberConfigReg(index int) uint16 {
	return MemberConfigBase + uint16(index)*4
}

// MemberConfig is an entry of the VLAN membership configuration database.
//
// The database is a vestige of older chips that had no VLAN4k table, but it
// is still the only way to express a few features: the PVID of a port is a
// reference to a member config index, and ACL actions can redirect packets
// to the VLAN described by a member config. To keep forwarding coherent, a
// member config referenced by a PVID must track the VLAN4k entry of the same
// VID; the Manager takes care of that.
//
// EVID is an "enhanced" VLAN ID with range 0~8191. Member configs cannot
// select between independent and shared learning because they play no part
// in learning.
type MemberConfig struct {
	EVID       uint16
	Member     uint16
	FID        uint8
	Priority   uint8
	PriorityEn bool
	PolicingEn bool
	MeterIdx   uint8
}

func (c *MemberConfig) validate() error {
	if c.FID > FIDMax || c.Priority > PriorityMax || c.MeterIdx > MeterMax {
		return fmt.Errorf("%w: fid %d priority %d meteridx %d",
			ErrInvalidConfig, c.FID, c.Priority, c.MeterIdx)
	}
	return nil
}

func (c *MemberConfig) pack() ([vlanmcWords]uint16, error) {
	var data [vlanmcWords]uint16

	if err := c.validate(); err != nil {
		return data, err
	}

	data[0] |= field.Prep(mcD0MbrMask, c.Member)
	data[1] |= field.Prep(mcD1FIDMask, uint16(c.FID))
	data[2] |= field.Prep(mcD2MeterIdxMask, uint16(c.MeterIdx))
	data[2] |= field.Prep(mcD2EnVlanPolMask, boolBit(c.PolicingEn))
	data[2] |= field.Prep(mcD2VBPriMask, uint16(c.Priority))
	data[2] |= field.Prep(mcD2VBPEnMask, boolBit(c.PriorityEn))
	data[3] |= field.Prep(mcD3EVIDMask, c.EVID)

	return data, nil
}

func unpackMemberConfig(data [vlanmcWords]uint16) MemberConfig {
	return MemberConfig{
		EVID:       field.Get(mcD3EVIDMask, data[3]),
		Member:     field.Get(mcD0MbrMask, data[0]),
		FID:        uint8(field.Get(mcD1FIDMask, data[1])),
		Priority:   uint8(field.Get(mcD2VBPriMask, data[2])),
		PriorityEn: field.Bit(mcD2VBPEnMask, data[2]),
		PolicingEn: field.Bit(mcD2EnVlanPolMask, data[2]),
		MeterIdx:   uint8(field.Get(mcD2MeterIdxMask, data[2])),
	}
}

// Entry is an allocated slot of the member config database. Entries come
// from Manager.AllocEntry and go back with Manager.FreeEntry. The refcount
// is used by the synced map; plain users leave it at one.
type Entry struct {
	// Index of the slot in the database, stable for the lifetime of the
	// entry.
	Index int
	// Config is the desired member config. It is not written to the
	// switch until Manager.SetEntry is called.
	Config MemberConfig

	refcnt int
}
