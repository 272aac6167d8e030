// Package vlan manages the two VLAN configuration domains of the switch:
// the exhaustive 4096-entry VLAN4k table, and the 32-entry VLAN membership
// configuration database with its allocator and VID-synced entries.
package vlan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dsa-platform/rtl8365mb/regmap"
	"github.com/dsa-platform/rtl8365mb/table"
)

// ErrExhausted is returned when no free slot is left in the member config
// database.
var ErrExhausted = errors.New("member config database exhausted")

// Manager owns VLAN state for a single chip.
type Manager struct {
	rm  *regmap.Regmap
	eng *table.Engine
	log *zap.SugaredLogger

	mu     sync.Mutex
	used   [NumMemberConfigs]bool
	synced map[uint16]*Entry
}

func NewManager(rm *regmap.Regmap, eng *table.Engine, log *zap.SugaredLogger) *Manager {
	return &Manager{
		rm:     rm,
		eng:    eng,
		log:    log.With(zap.String("module", "vlan")),
		synced: map[uint16]*Entry{},
	}
}

// GetVlan4k reads the VLAN4k table entry for the given VID.
func (m *Manager) GetVlan4k(ctx context.Context, vid uint16) (Vlan4k, error) {
	if vid >= NumVlans {
		return Vlan4k{}, fmt.Errorf("%w: vid %d", ErrInvalidConfig, vid)
	}

	var data [vlan4kWords]uint16
	q := table.CVLANQuery{Addr: vid}
	if err := m.eng.Read(ctx, &q, data[:]); err != nil {
		return Vlan4k{}, fmt.Errorf("read vlan4k %d: %w", vid, err)
	}

	return unpackVlan4k(vid, data), nil
}

// SetVlan4k writes a VLAN4k table entry.
func (m *Manager) SetVlan4k(ctx context.Context, v *Vlan4k) error {
	data, err := v.pack()
	if err != nil {
		return err
	}

	q := table.CVLANQuery{Addr: v.VID}
	if err := m.eng.Write(ctx, &q, data[:]); err != nil {
		return fmt.Errorf("write vlan4k %d: %w", v.VID, err)
	}

	m.log.Debugw("set vlan4k",
		zap.Uint16("vid", v.VID),
		zap.Uint16("member", v.Member),
		zap.Uint16("untag", v.Untag))

	return nil
}

// AllocEntry reserves a free slot of the member config database and returns
// it with a single reference. The in-switch member config of the slot is not
// zeroed: the caller is expected to program it with SetEntry.
func (m *Manager) AllocEntry() (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocEntry()
}

func (m *Manager) allocEntry() (*Entry, error) {
	for i := range m.used {
		if m.used[i] {
			continue
		}
		m.used[i] = true
		m.log.Debugw("allocated member config", zap.Int("index", i))
		return &Entry{Index: i, refcnt: 1}, nil
	}
	return nil, ErrExhausted
}

// FreeEntry releases a slot back to the database. Freeing an entry that
// other users still hold a reference to is a caller bug and panics.
func (m *Manager) FreeEntry(e *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freeEntry(e)
}

func (m *Manager) freeEntry(e *Entry) {
	if e.refcnt > 1 {
		panic(fmt.Sprintf("freeing member config %d with %d references",
			e.Index, e.refcnt))
	}
	if !m.used[e.Index] {
		panic(fmt.Sprintf("double free of member config %d", e.Index))
	}
	m.used[e.Index] = false
	m.log.Debugw("freed member config", zap.Int("index", e.Index))
}

// SetEntry commits the entry's member config to the switch.
func (m *Manager) SetEntry(e *Entry) error {
	if e.Index < 0 || e.Index >= NumMemberConfigs {
		return fmt.Errorf("%w: member config index %d", ErrInvalidConfig, e.Index)
	}

	data, err := e.Config.pack()
	if err != nil {
		return err
	}

	for i, w := range data {
		if err := m.rm.Write16(MemberConfigReg(e.Index)+uint16(i), w); err != nil {
			return fmt.Errorf("write member config %d: %w", e.Index, err)
		}
	}

	return nil
}

// MemberConfigAt reads back the member config at the given index.
func (m *Manager) MemberConfigAt(index int) (MemberConfig, error) {
	if index < 0 || index >= NumMemberConfigs {
		return MemberConfig{}, fmt.Errorf("%w: member config index %d",
			ErrInvalidConfig, index)
	}

	var data [vlanmcWords]uint16
	for i := range data {
		w, err := m.rm.Read16(MemberConfigReg(index) + uint16(i))
		if err != nil {
			return MemberConfig{}, fmt.Errorf("read member config %d: %w",
				index, err)
		}
		data[i] = w
	}

	return unpackMemberConfig(data), nil
}

// GetSynced returns the synced entry for the given VID, taking a reference.
// If no entry is synced for the VID yet, a slot is allocated and registered
// with only the EVID initialized; its config catches up with the VLAN4k
// table on the next Sync of that VID.
func (m *Manager) GetSynced(vid uint16) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.synced[vid]; ok {
		e.refcnt++
		return e, nil
	}

	e, err := m.allocEntry()
	if err != nil {
		return nil, err
	}
	e.Config.EVID = vid
	m.synced[vid] = e

	m.log.Debugw("synced member config",
		zap.Uint16("vid", vid), zap.Int("index", e.Index))

	return e, nil
}

// FindSynced returns the synced entry for the given VID without taking a
// reference, or nil if the VID has none.
func (m *Manager) FindSynced(vid uint16) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.synced[vid]
}

// PutSynced drops a reference on the synced entry for the given VID. The
// slot is released once the last reference is gone.
func (m *Manager) PutSynced(vid uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.synced[vid]
	if !ok {
		m.log.Warnw("put of unsynced vid", zap.Uint16("vid", vid))
		return
	}

	e.refcnt--
	if e.refcnt > 0 {
		return
	}

	delete(m.synced, vid)
	m.freeEntry(e)
}

// Sync propagates a VLAN4k entry to the synced member config of the same
// VID, if one exists. Called after every VLAN4k update so that PVID and ACL
// references to the member config stay coherent with the table.
func (m *Manager) Sync(v *Vlan4k) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.synced[v.VID]
	if !ok {
		return nil
	}

	e.Config.Member = v.Member
	e.Config.FID = v.FID
	e.Config.Priority = v.Priority
	e.Config.PriorityEn = v.PriorityEn
	e.Config.PolicingEn = v.PolicingEn
	e.Config.MeterIdx = v.MeterIdx

	return m.SetEntry(e)
}
