package switchd

import (
	"context"
	"fmt"

	"github.com/dsa-platform/rtl8365mb/l2"
)

func checkPort(port int) error {
	if port < 0 || port >= MaxNumPorts {
		return fmt.Errorf("port %d out of range", port)
	}
	return nil
}

// SetLearning enables or disables source address learning on a port. The
// chip has no dedicated switch for this: learning is governed by the
// per-port learn limit, where a limit of zero disables it. Enabling sets the
// limit to the full table size.
func (m *Switchd) SetLearning(port int, enable bool) error {
	if err := checkPort(port); err != nil {
		return err
	}

	var limit uint16
	if enable {
		limit = l2.NumEntries
	}

	return m.rm.Write16(learnLimitBase+uint16(port), limit)
}

func (m *Switchd) setFlood(reg uint16, port int, enable bool) error {
	if err := checkPort(port); err != nil {
		return err
	}

	var val uint16
	if enable {
		val = 1 << port
	}

	return m.rm.Update16(reg, 1<<port, val)
}

// SetUcastFlood adds or removes the port from the flooding mask for frames
// with an unknown unicast destination.
func (m *Switchd) SetUcastFlood(port int, enable bool) error {
	return m.setFlood(ucastFloodReg, port, enable)
}

// SetMcastFlood adds or removes the port from the flooding mask for frames
// with an unknown multicast destination.
func (m *Switchd) SetMcastFlood(port int, enable bool) error {
	return m.setFlood(mcastFloodReg, port, enable)
}

// SetBcastFlood adds or removes the port from the broadcast flooding mask.
func (m *Switchd) SetBcastFlood(port int, enable bool) error {
	return m.setFlood(bcastFloodReg, port, enable)
}

// Port isolation manipulation.
//
// The port isolation register controls the forwarding mask of a given port.
// The switch will not forward packets ingressed on a given port to ports
// which are not enabled in its forwarding mask. The forwarding mask has the
// highest priority in forwarding decisions, with one exception: frames
// received on a CPU port can carry a forced destination in their CPU tag.

// SetIsolation replaces the forwarding mask of a port.
func (m *Switchd) SetIsolation(port int, mask uint16) error {
	if err := checkPort(port); err != nil {
		return err
	}

	return m.rm.Write16(isolationBase+uint16(port), mask&isolationMask)
}

// AddIsolation adds ports to the forwarding mask of a port.
func (m *Switchd) AddIsolation(port int, mask uint16) error {
	if err := checkPort(port); err != nil {
		return err
	}

	return m.rm.Update16(isolationBase+uint16(port), mask, mask)
}

// RemoveIsolation removes ports from the forwarding mask of a port.
func (m *Switchd) RemoveIsolation(port int, mask uint16) error {
	if err := checkPort(port); err != nil {
		return err
	}

	return m.rm.Update16(isolationBase+uint16(port), mask, 0)
}

// SetEFID sets the extended filter ID of a port. Ports bridged together
// share an EFID, which keys their forwarding database entries apart from
// other bridges.
func (m *Switchd) SetEFID(port int, efid uint8) error {
	if err := checkPort(port); err != nil {
		return err
	}

	reg := efidBase + uint16(port>>2)
	offset := uint16(port&0x3) << 2

	return m.rm.Update16(reg, 0x7<<offset, uint16(efid&0x7)<<offset)
}

// SetSTPState sets the spanning tree state of a port on tree instance 0.
func (m *Switchd) SetSTPState(port int, state STPState) error {
	if err := checkPort(port); err != nil {
		return err
	}

	reg := mstiCtrlBase + uint16(port>>3)
	offset := uint16(port&0x7) << 1

	return m.rm.Update16(reg, 0x3<<offset, uint16(state)<<offset)
}

// FlushPort drops all dynamic forwarding database entries learned on a
// port.
func (m *Switchd) FlushPort(ctx context.Context, port int) error {
	if err := checkPort(port); err != nil {
		return err
	}

	return m.fdb.Flush(ctx, port, 0)
}

// WalkFdb calls fn for every unicast forwarding database entry of a port,
// until fn returns false or the database is exhausted.
func (m *Switchd) WalkFdb(ctx context.Context, port int, fn func(mac [6]byte, vid uint16, static bool) bool) error {
	if err := checkPort(port); err != nil {
		return err
	}

	return m.fdb.WalkUC(ctx, func(_ uint16, uc l2.UC) bool {
		if int(uc.Port) != port {
			return true
		}
		return fn(uc.Key.MAC, uc.Key.VID, uc.Static)
	})
}

// WalkMdb calls fn for every multicast group the port is a member of, until
// fn returns false or the database is exhausted.
func (m *Switchd) WalkMdb(ctx context.Context, port int, fn func(mac [6]byte, vid uint16) bool) error {
	if err := checkPort(port); err != nil {
		return err
	}

	return m.fdb.WalkMC(ctx, func(_ uint16, mc l2.MC) bool {
		if mc.Member&(1<<port) == 0 {
			return true
		}
		return fn(mc.Key.MAC, mc.Key.VID)
	})
}
