package vlan_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dsa-platform/rtl8365mb/internal/hwsim"
	"github.com/dsa-platform/rtl8365mb/regmap"
	"github.com/dsa-platform/rtl8365mb/table"
	"github.com/dsa-platform/rtl8365mb/vlan"
)

func testManager(t *testing.T) (*vlan.Manager, *regmap.Regmap) {
	t.Helper()
	log := zap.NewNop().Sugar()
	rm := regmap.New(hwsim.New(), log)
	return vlan.NewManager(rm, table.NewEngine(rm, log), log), rm
}

func TestVlan4kReadWrite(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	want := vlan.Vlan4k{VID: 100, Member: 0x0403, Untag: 0x0003, IVLEn: true}
	require.NoError(t, m.SetVlan4k(ctx, &want))

	got, err := m.GetVlan4k(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Untouched VIDs read back empty.
	got, err = m.GetVlan4k(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, vlan.Vlan4k{VID: 101}, got)

	_, err = m.GetVlan4k(ctx, 4096)
	assert.ErrorIs(t, err, vlan.ErrInvalidConfig)
}

func TestAllocFree(t *testing.T) {
	m, _ := testManager(t)

	a, err := m.AllocEntry()
	require.NoError(t, err)
	b, err := m.AllocEntry()
	require.NoError(t, err)
	assert.Equal(t, 0, a.Index)
	assert.Equal(t, 1, b.Index)

	// A freed slot is handed out again.
	m.FreeEntry(a)
	c, err := m.AllocEntry()
	require.NoError(t, err)
	assert.Equal(t, 0, c.Index)
}

func TestAllocExhausted(t *testing.T) {
	m, _ := testManager(t)

	for i := 0; i < vlan.NumMemberConfigs; i++ {
		_, err := m.AllocEntry()
		require.NoError(t, err)
	}
	_, err := m.AllocEntry()
	assert.ErrorIs(t, err, vlan.ErrExhausted)
}

func TestDoubleFreePanics(t *testing.T) {
	m, _ := testManager(t)

	e, err := m.AllocEntry()
	require.NoError(t, err)
	m.FreeEntry(e)
	assert.Panics(t, func() { m.FreeEntry(e) })
}

func TestFreeReferencedPanics(t *testing.T) {
	m, _ := testManager(t)

	e, err := m.GetSynced(10)
	require.NoError(t, err)
	_, err = m.GetSynced(10)
	require.NoError(t, err)
	assert.Panics(t, func() { m.FreeEntry(e) })
}

func TestSetEntryRoundTrip(t *testing.T) {
	m, rm := testManager(t)

	e, err := m.AllocEntry()
	require.NoError(t, err)
	e.Config = vlan.MemberConfig{EVID: 100, Member: 0x0403, FID: 2}
	require.NoError(t, m.SetEntry(e))

	got, err := m.MemberConfigAt(e.Index)
	require.NoError(t, err)
	assert.Equal(t, e.Config, got)

	// The member mask lands in the first register of the slot.
	w, err := rm.Read16(vlan.MemberConfigReg(e.Index))
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0403), w)
}

func TestSyncedLifecycle(t *testing.T) {
	m, _ := testManager(t)

	assert.Nil(t, m.FindSynced(10))

	e, err := m.GetSynced(10)
	require.NoError(t, err)
	assert.Equal(t, uint16(10), e.Config.EVID)
	assert.Same(t, e, m.FindSynced(10))

	// A second user gets the same slot.
	e2, err := m.GetSynced(10)
	require.NoError(t, err)
	assert.Same(t, e, e2)

	m.PutSynced(10)
	assert.Same(t, e, m.FindSynced(10))
	m.PutSynced(10)
	assert.Nil(t, m.FindSynced(10))

	// The slot is free again.
	a, err := m.AllocEntry()
	require.NoError(t, err)
	assert.Equal(t, e.Index, a.Index)
}

func TestSyncTracksVlan4k(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	e, err := m.GetSynced(100)
	require.NoError(t, err)

	v := vlan.Vlan4k{VID: 100, Member: 0x0403, FID: 3, IVLEn: true}
	require.NoError(t, m.SetVlan4k(ctx, &v))
	require.NoError(t, m.Sync(&v))

	got, err := m.MemberConfigAt(e.Index)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0403), got.Member)
	assert.Equal(t, uint8(3), got.FID)
	assert.Equal(t, uint16(100), got.EVID)

	// VIDs with no synced member config are left alone.
	other := vlan.Vlan4k{VID: 200, Member: 0x0001}
	require.NoError(t, m.Sync(&other))
}
