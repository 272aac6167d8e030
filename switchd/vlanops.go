package switchd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dsa-platform/rtl8365mb/acl"
)

// VLAN registers outside the VLAN4k and member config tables.
const (
	vlanCtrlReg    = 0x07A8
	vlanCtrlEnMask = 0x0001

	vlanIngressReg = 0x07A9

	pvidCtrlBase = 0x0700

	portMiscCfgBase       = 0x000E
	portMiscEgressModeMsk = 0x0030

	transparentBase = 0x09D0

	egressKeepBase    = 0x093B
	egressKeepExtBase = 0x08D8
)

// Port VLAN egress modes.
const (
	// egressModeOriginal follows the untag mask of the VLAN4k entry.
	egressModeOriginal = 0
	// egressModeKeep egresses frames in their ingress tag format, but the
	// priority and VID may still be rewritten.
	egressModeKeep = 1
	// egressModePriTag always egresses with a priority tag.
	egressModePriTag = 2
	// egressModeRealKeep egresses frames exactly as they ingressed.
	egressModeRealKeep = 3
)

func portMiscCfgReg(port int) uint16 {
	return portMiscCfgBase + uint16(port)<<5
}

func (m *Switchd) setEgressMode(port int, mode uint16) error {
	return m.rm.Update16(portMiscCfgReg(port), portMiscEgressModeMsk,
		mode<<4)
}

// setTransparent controls whether frames forwarded from igrPort and
// egressed on egrPort bypass the VLAN membership egress filter.
func (m *Switchd) setTransparent(egrPort, igrPort int, enable bool) error {
	var val uint16
	if enable {
		val = 1 << igrPort
	}

	return m.rm.Update16(transparentBase+uint16(egrPort), 1<<igrPort, val)
}

// setEgressKeep controls whether frames forwarded from igrPort keep their
// ingress tag format when egressed on egrPort, bypassing the tagging and
// untagging rules of the VLAN configuration.
func (m *Switchd) setEgressKeep(egrPort, igrPort int, enable bool) error {
	var reg, mask uint16

	if igrPort < 8 {
		reg = egressKeepBase + uint16(egrPort>>1)
		mask = 1 << igrPort << (uint16(egrPort&1) * 8)
	} else {
		reg = egressKeepExtBase + uint16(egrPort>>1)
		mask = 1 << (igrPort - 8) << (uint16(egrPort&1) * 3)
	}

	var val uint16
	if enable {
		val = mask
	}

	return m.rm.Update16(reg, mask, val)
}

// setIngressFiltering controls VLAN membership filtering at ingress.
//
// Enabled: tagged frames are discarded if the port is not a member of the
// VLAN the frame is associated with, and untagged frames are discarded
// unless the port has a PVID. Priority-tagged frames count as untagged.
//
// Disabled: all tagged and untagged frames are accepted.
func (m *Switchd) setIngressFiltering(port int, enable bool) error {
	var val uint16
	if enable {
		val = 1 << port
	}

	return m.rm.Update16(vlanIngressReg, 1<<port, val)
}

// vlanSetup programs the VLAN-unaware initial state. Two member config
// slots are reserved: the "null" config for ports with no PVID, and the
// "unaware" config which an ACL rule uses to classify every ingress frame
// into VID 0 while a port is VLAN-unaware.
func (m *Switchd) vlanSetup(ctx context.Context) error {
	// On reset every port takes its PVID from member config 0, so the
	// null config must land in slot 0: the default is then no PVID,
	// everywhere.
	mcNull, err := m.vlans.AllocEntry()
	if err != nil {
		return err
	}
	if mcNull.Index != 0 {
		return fmt.Errorf("null member config landed in slot %d", mcNull.Index)
	}
	if err := m.vlans.SetEntry(mcNull); err != nil {
		return err
	}
	m.mcNull = mcNull

	// The unaware config carries VID 0 and all ports as members, so that
	// frames reclassified to it are learned as though the port were
	// VLAN-unaware. The ACL rule below hardcodes its slot.
	mcUnaware, err := m.vlans.AllocEntry()
	if err != nil {
		return err
	}
	if mcUnaware.Index != 1 {
		return fmt.Errorf("unaware member config landed in slot %d", mcUnaware.Index)
	}
	mcUnaware.Config.Member = PortMask
	if err := m.vlans.SetEntry(mcUnaware); err != nil {
		return err
	}
	m.mcUnaware = mcUnaware

	if err := m.acls.Reset(ctx); err != nil {
		return err
	}

	if err := m.acls.SetTemplateConfig(acl.DefaultTemplateConfig()); err != nil {
		return err
	}

	if err := m.acls.SetFieldselConfig(acl.DefaultFieldselConfig()); err != nil {
		return err
	}

	// Rule 0 matches every frame on every port: all care field bits are
	// zero, so only the port mask condition applies. Its action
	// reclassifies the frame according to the unaware member config.
	action := acl.Action{Mode: acl.ModeCVLAN}
	action.CVLAN.Subaction = acl.SubactionIngress
	action.CVLAN.MemberConfig = uint16(mcUnaware.Index)
	if err := m.acls.SetAction(ctx, 0, &action); err != nil {
		return err
	}

	rule := acl.Rule{Enabled: true}
	rule.Care.PortMask = PortMask
	rule.Data.PortMask = PortMask
	if err := m.acls.SetRule(ctx, 0, &rule); err != nil {
		return err
	}

	// The rule starts enabled on every port. It gets disabled per port
	// when VLAN filtering is enabled there, and vice versa.
	for port := 0; port < MaxNumPorts; port++ {
		if err := m.setEgressMode(port, egressModeOriginal); err != nil {
			return err
		}

		if err := m.acls.SetPortEnable(port, true); err != nil {
			return err
		}
	}

	// All ports join VLAN 0 with independent VLAN learning, so that the
	// switch learns with {VID, MAC, EFID} rather than {FID, MAC, EFID}.
	vlan0, err := m.vlans.GetVlan4k(ctx, 0)
	if err != nil {
		return err
	}
	vlan0.Member |= PortMask
	vlan0.IVLEn = true
	if err := m.vlans.SetVlan4k(ctx, &vlan0); err != nil {
		return err
	}

	return m.rm.Update16(vlanCtrlReg, vlanCtrlEnMask, vlanCtrlEnMask)
}

// SetVlanFiltering switches a port between VLAN-aware and VLAN-unaware
// operation.
//
// Unaware, frames pass from the port to all others unmodified: the port is
// added to the transparent and egress keep masks of every port, the
// VLAN-unaware ACL rule reclassifies its ingress traffic to VID 0, and
// ingress filtering is off. Aware, all of that is undone and the programmed
// VLAN configuration applies.
func (m *Switchd) SetVlanFiltering(ctx context.Context, port int, enable bool) error {
	if err := checkPort(port); err != nil {
		return err
	}

	for other := 0; other < MaxNumPorts; other++ {
		if err := m.setTransparent(other, port, !enable); err != nil {
			return err
		}

		if err := m.setEgressKeep(other, port, !enable); err != nil {
			return err
		}
	}

	if err := m.acls.SetPortEnable(port, !enable); err != nil {
		return err
	}

	return m.setIngressFiltering(port, enable)
}

// SetPVID sets the port-based VLAN ID of a port. A VID of zero removes the
// PVID.
//
// The chip expresses PVIDs indirectly, through the index of a VLAN member
// config: the PVID is whatever EVID that config carries. Member configs are
// a vestige of older chips in the family that had no VLAN4k table, so the
// config for the VID is acquired from the synced pool, where it follows
// VLAN4k updates for as long as any port points at it.
func (m *Switchd) SetPVID(ctx context.Context, port int, vid uint16) error {
	if err := checkPort(port); err != nil {
		return err
	}

	if m.pvid[port] == vid {
		return nil
	}

	// Drop this port's interest in the old PVID's member config.
	if m.pvid[port] != 0 {
		m.vlans.PutSynced(m.pvid[port])
		m.pvid[port] = 0
	}

	// Removing the PVID selects the reserved null member config in slot
	// 0, which is static and needs no syncing.
	mcidx := 0
	if vid != 0 {
		e, err := m.vlans.GetSynced(vid)
		if err != nil {
			return err
		}
		mcidx = e.Index
		m.pvid[port] = vid
	}

	reg := pvidCtrlBase + uint16(port>>1)
	offset := uint16(port&1) << 3

	err := m.rm.Update16(reg, 0x1F<<offset, uint16(mcidx)<<offset)
	if err != nil {
		return err
	}

	m.log.Debugw("set pvid",
		zap.Int("port", port),
		zap.Uint16("vid", vid),
		zap.Int("mcidx", mcidx))

	return nil
}

// PVID reports the port-based VLAN ID of a port, zero if unset.
func (m *Switchd) PVID(port int) uint16 {
	if port < 0 || port >= MaxNumPorts {
		return 0
	}
	return m.pvid[port]
}

// AddVlan adds a port to a VLAN. With untagged set, frames of the VLAN
// egress the port untagged. With pvid set, the VLAN also becomes the port's
// PVID.
func (m *Switchd) AddVlan(ctx context.Context, port int, vid uint16, untagged, pvid bool) error {
	if err := checkPort(port); err != nil {
		return err
	}

	m.log.Infow("add vlan",
		zap.Uint16("vid", vid),
		zap.Int("port", port),
		zap.Bool("untagged", untagged),
		zap.Bool("pvid", pvid))

	v, err := m.vlans.GetVlan4k(ctx, vid)
	if err != nil {
		return err
	}

	v.Member |= 1 << port
	if untagged {
		v.Untag |= 1 << port
	}
	// Always use independent VLAN learning.
	v.IVLEn = true

	if err := m.vlans.SetVlan4k(ctx, &v); err != nil {
		return err
	}

	var pvidVID uint16
	if pvid {
		pvidVID = vid
	}
	if err := m.SetPVID(ctx, port, pvidVID); err != nil {
		return err
	}

	return m.vlans.Sync(&v)
}

// DelVlan removes a port from a VLAN. If the VLAN was the port's PVID, the
// PVID is removed as well.
func (m *Switchd) DelVlan(ctx context.Context, port int, vid uint16) error {
	if err := checkPort(port); err != nil {
		return err
	}

	m.log.Infow("del vlan", zap.Uint16("vid", vid), zap.Int("port", port))

	v, err := m.vlans.GetVlan4k(ctx, vid)
	if err != nil {
		return err
	}

	v.Member &^= 1 << port
	v.Untag &^= 1 << port

	if err := m.vlans.SetVlan4k(ctx, &v); err != nil {
		return err
	}

	if m.pvid[port] == vid {
		if err := m.SetPVID(ctx, port, 0); err != nil {
			return err
		}
	}

	return m.vlans.Sync(&v)
}
