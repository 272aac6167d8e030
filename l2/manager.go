// Package l2 manages the forwarding database of the switch: a 2K-row hashed
// look-up table holding learned and pinned unicast addresses as well as
// multicast group memberships.
package l2

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dsa-platform/rtl8365mb/internal/field"
	"github.com/dsa-platform/rtl8365mb/regmap"
	"github.com/dsa-platform/rtl8365mb/table"
)

// NumEntries bounds L2 row addresses. It matches the chip's learn limit
// maximum: 2048 hash table rows plus 64 rows of CAM.
const NumEntries = 2112

var (
	// ErrNotFound is returned when no entry matches; it aliases the table
	// engine's miss so callers can use a single sentinel.
	ErrNotFound = table.ErrNotFound
	// ErrWrongType is returned when a unicast operation lands on a
	// multicast row or the other way around.
	ErrWrongType = errors.New("l2 entry type mismatch")
	// ErrTableFull is returned when a new entry cannot be inserted
	// because every row of its hash bucket is taken.
	ErrTableFull = errors.New("l2 table full")
)

// Port flush command registers. Writing a 1 to the port's mask bit starts
// the flush; completion is signalled when the corresponding busy bit reads
// back 0. Ports 8 and up use the ext register.
const (
	flushPortReg         = 0x0A36
	flushPortMaskMask    = 0x00FF
	flushPortBusyMask    = 0xFF00
	flushPortExtReg      = 0x0A35
	flushPortExtMaskMask = 0x0007
	flushPortExtBusyMask = 0x0038

	flushCtrl1Reg     = 0x0A37
	flushCtrl1VIDMask = 0x0FFF

	flushCtrl2Reg      = 0x0A38
	flushCtrl2ModeMask = 0x0003
	flushModePort      = 0
	flushModePortVID   = 1
	flushCtrl2TypeMask = 0x0004
	flushTypeDynamic   = 0

	flushCtrl3Reg  = 0x0A39
	flushCtrl3Mask = 0x0001
)

const (
	flushPollInterval = 10 * time.Microsecond
	flushPollTimeout  = 100 * time.Microsecond
)

// Manager owns the forwarding database of a single chip. Operations that
// take several table queries hold an internal lock so concurrent callers do
// not interleave their read-modify-write sequences.
type Manager struct {
	rm  *regmap.Regmap
	eng *table.Engine
	log *zap.SugaredLogger

	mu sync.Mutex
}

func NewManager(rm *regmap.Regmap, eng *table.Engine, log *zap.SugaredLogger) *Manager {
	return &Manager{
		rm:  rm,
		eng: eng,
		log: log.With(zap.String("module", "l2")),
	}
}

// GetUCByAddr reads the unicast entry at the given row address. A multicast
// row yields ErrWrongType, an empty one ErrNotFound.
func (m *Manager) GetUCByAddr(ctx context.Context, addr uint16) (UC, error) {
	var data [entryWords]uint16

	q := table.L2Query{Method: table.L2MethodAddr, Addr: addr}
	if err := m.eng.Read(ctx, &q, data[:]); err != nil {
		return UC{}, err
	}

	uc := unpackUC(data)
	if isMulticast(uc.Key.MAC) {
		return UC{}, fmt.Errorf("%w: row %d holds a multicast entry",
			ErrWrongType, addr)
	}

	return uc, nil
}

// GetMCByAddr reads the multicast entry at the given row address.
func (m *Manager) GetMCByAddr(ctx context.Context, addr uint16) (MC, error) {
	var data [entryWords]uint16

	q := table.L2Query{Method: table.L2MethodAddr, Addr: addr}
	if err := m.eng.Read(ctx, &q, data[:]); err != nil {
		return MC{}, err
	}

	mc := unpackMC(data)
	if !isMulticast(mc.Key.MAC) {
		return MC{}, fmt.Errorf("%w: row %d holds a unicast entry",
			ErrWrongType, addr)
	}

	return mc, nil
}

// NextUC finds the first valid unicast entry at or after the given row
// address and returns it with its row address.
func (m *Manager) NextUC(ctx context.Context, addr uint16) (UC, uint16, error) {
	var data [entryWords]uint16

	q := table.L2Query{Method: table.L2MethodAddrNextUC, Addr: addr}
	if err := m.eng.Read(ctx, &q, data[:]); err != nil {
		return UC{}, 0, err
	}

	return unpackUC(data), q.Addr, nil
}

// NextMC finds the first valid multicast entry at or after the given row
// address and returns it with its row address.
func (m *Manager) NextMC(ctx context.Context, addr uint16) (MC, uint16, error) {
	var data [entryWords]uint16

	q := table.L2Query{Method: table.L2MethodAddrNextMC, Addr: addr}
	if err := m.eng.Read(ctx, &q, data[:]); err != nil {
		return MC{}, 0, err
	}

	return unpackMC(data), q.Addr, nil
}

// GetUC looks up a unicast entry by key.
func (m *Manager) GetUC(ctx context.Context, key UCKey) (UC, error) {
	uc := UC{Key: key}
	data := uc.pack()

	q := table.L2Query{Method: table.L2MethodMAC}
	if err := m.eng.Read(ctx, &q, data[:]); err != nil {
		return UC{}, err
	}

	return unpackUC(data), nil
}

// AddUC inserts or updates a unicast entry. Inserting into a full hash
// bucket returns ErrTableFull.
func (m *Manager) AddUC(ctx context.Context, uc *UC) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// An existing entry with this key is updated in place. For a fresh
	// key the write must be verified: the chip reports no error when
	// every row of the hash bucket is taken.
	fresh := false
	data := uc.pack()
	q := table.L2Query{Method: table.L2MethodMAC}
	err := m.eng.Read(ctx, &q, data[:])
	if errors.Is(err, ErrNotFound) {
		fresh = true
	} else if err != nil {
		return err
	}

	data = uc.pack()
	q = table.L2Query{Method: table.L2MethodMAC}
	if err := m.eng.Write(ctx, &q, data[:]); err != nil {
		return err
	}

	if fresh {
		q = table.L2Query{Method: table.L2MethodMAC}
		data = uc.pack()
		err := m.eng.Read(ctx, &q, data[:])
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("add %02x:%02x:%02x:%02x:%02x:%02x vid %d: %w",
				uc.Key.MAC[0], uc.Key.MAC[1], uc.Key.MAC[2],
				uc.Key.MAC[3], uc.Key.MAC[4], uc.Key.MAC[5],
				uc.Key.VID, ErrTableFull)
		} else if err != nil {
			return err
		}

		m.log.Debugw("added unicast entry",
			zap.Uint16("addr", q.Addr),
			zap.Uint16("vid", uc.Key.VID),
			zap.Uint8("port", uc.Port))
	}

	return nil
}

// DelUC removes the unicast entry with the given key by writing a record
// that keeps the key but clears everything else, leaving the slot dead.
func (m *Manager) DelUC(ctx context.Context, key UCKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	uc := UC{Key: key}
	data := uc.pack()
	q := table.L2Query{Method: table.L2MethodMAC}
	if err := m.eng.Read(ctx, &q, data[:]); err != nil {
		return err
	}

	uc = UC{Key: key}
	data = uc.pack()
	q = table.L2Query{Method: table.L2MethodMAC}
	return m.eng.Write(ctx, &q, data[:])
}

// GetMC looks up a multicast entry by key.
func (m *Manager) GetMC(ctx context.Context, key MCKey) (MC, error) {
	mc := MC{Key: key}
	data := mc.pack()

	q := table.L2Query{Method: table.L2MethodMAC}
	if err := m.eng.Read(ctx, &q, data[:]); err != nil {
		return MC{}, err
	}

	return unpackMC(data), nil
}

// AddMC inserts or updates a multicast entry.
func (m *Manager) AddMC(ctx context.Context, mc *MC) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addMC(ctx, mc)
}

func (m *Manager) addMC(ctx context.Context, mc *MC) error {
	fresh := false
	data := mc.pack()
	q := table.L2Query{Method: table.L2MethodMAC}
	err := m.eng.Read(ctx, &q, data[:])
	if errors.Is(err, ErrNotFound) {
		fresh = true
	} else if err != nil {
		return err
	}

	data = mc.pack()
	q = table.L2Query{Method: table.L2MethodMAC}
	if err := m.eng.Write(ctx, &q, data[:]); err != nil {
		return err
	}

	if fresh {
		q = table.L2Query{Method: table.L2MethodMAC}
		data = mc.pack()
		err := m.eng.Read(ctx, &q, data[:])
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("add multicast group vid %d: %w",
				mc.Key.VID, ErrTableFull)
		} else if err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) delMC(ctx context.Context, key MCKey) error {
	mc := MC{Key: key}
	data := mc.pack()
	q := table.L2Query{Method: table.L2MethodMAC}
	if err := m.eng.Read(ctx, &q, data[:]); err != nil {
		return err
	}

	mc = MC{Key: key}
	data = mc.pack()
	q = table.L2Query{Method: table.L2MethodMAC}
	return m.eng.Write(ctx, &q, data[:])
}

// DelMC removes the multicast entry with the given key.
func (m *Manager) DelMC(ctx context.Context, key MCKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delMC(ctx, key)
}

// JoinMulticast adds a port to a multicast group, creating the group if it
// does not exist yet.
func (m *Manager) JoinMulticast(ctx context.Context, key MCKey, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, err := m.GetMC(ctx, key)
	if errors.Is(err, ErrNotFound) {
		mc = MC{Key: key}
	} else if err != nil {
		return err
	}

	mc.Member |= 1 << port

	return m.addMC(ctx, &mc)
}

// LeaveMulticast removes a port from a multicast group. The group itself is
// removed once no member ports remain: a multicast entry with an empty
// member mask is a dead slot.
func (m *Manager) LeaveMulticast(ctx context.Context, key MCKey, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, err := m.GetMC(ctx, key)
	if err != nil {
		return err
	}

	mc.Member &^= 1 << port
	if mc.Member == 0 {
		return m.delMC(ctx, key)
	}

	return m.addMC(ctx, &mc)
}

// WalkUC calls fn for every valid unicast entry of the database, together
// with its row address, until fn returns false or the table is exhausted.
func (m *Manager) WalkUC(ctx context.Context, fn func(addr uint16, uc UC) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	uc, addr, err := m.NextUC(ctx, 0)
	if errors.Is(err, ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	first := addr
	for {
		if !fn(addr, uc) {
			return nil
		}

		addr++
		if addr >= NumEntries {
			return nil
		}

		uc, addr, err = m.NextUC(ctx, addr)
		if errors.Is(err, ErrNotFound) {
			return nil
		} else if err != nil {
			return err
		}

		// The search wraps around once it passes the last entry.
		if addr <= first {
			return nil
		}
	}
}

// WalkMC is WalkUC for multicast entries.
func (m *Manager) WalkMC(ctx context.Context, fn func(addr uint16, mc MC) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, addr, err := m.NextMC(ctx, 0)
	if errors.Is(err, ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	first := addr
	for {
		if !fn(addr, mc) {
			return nil
		}

		addr++
		if addr >= NumEntries {
			return nil
		}

		mc, addr, err = m.NextMC(ctx, addr)
		if errors.Is(err, ErrNotFound) {
			return nil
		} else if err != nil {
			return err
		}

		if addr <= first {
			return nil
		}
	}
}

// Flush removes the dynamic unicast entries learned on a port. With a
// non-zero vid only entries of that VLAN are flushed.
func (m *Manager) Flush(ctx context.Context, port int, vid uint16) error {
	mode := uint16(flushModePort)
	if vid != 0 {
		mode = flushModePortVID
	}

	m.log.Debugw("flushing port", zap.Int("port", port), zap.Uint16("vid", vid))

	return m.rm.Locked(func(ops regmap.Ops) error {
		err := ops.Write16(flushCtrl2Reg,
			field.Prep(flushCtrl2ModeMask, mode)|
				field.Prep(flushCtrl2TypeMask, flushTypeDynamic))
		if err != nil {
			return err
		}

		if err := ops.Write16(flushCtrl1Reg, field.Prep(flushCtrl1VIDMask, vid)); err != nil {
			return err
		}

		if port < 8 {
			bit := uint16(1) << port
			err := ops.Write16(flushPortReg, field.Prep(flushPortMaskMask, bit))
			if err != nil {
				return err
			}
			return ops.Poll16(ctx, flushPortReg,
				field.Prep(flushPortBusyMask, bit), 0,
				flushPollInterval, flushPollTimeout)
		}

		bit := uint16(1) << (port - 8)
		err = ops.Write16(flushPortExtReg, field.Prep(flushPortExtMaskMask, bit))
		if err != nil {
			return err
		}
		return ops.Poll16(ctx, flushPortExtReg,
			field.Prep(flushPortExtBusyMask, bit), 0,
			flushPollInterval, flushPollTimeout)
	})
}

// FlushAll erases the entire look-up table. The control bit reads back zero
// once the operation completes.
func (m *Manager) FlushAll(ctx context.Context) error {
	return m.rm.Locked(func(ops regmap.Ops) error {
		if err := ops.Write16(flushCtrl3Reg, flushCtrl3Mask); err != nil {
			return err
		}
		return ops.Poll16(ctx, flushCtrl3Reg, flushCtrl3Mask, 0,
			flushPollInterval, flushPollTimeout)
	})
}
