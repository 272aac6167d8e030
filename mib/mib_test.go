package mib_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dsa-platform/rtl8365mb/internal/hwsim"
	"github.com/dsa-platform/rtl8365mb/mib"
	"github.com/dsa-platform/rtl8365mb/regmap"
)

func testManager(t *testing.T) (*mib.Manager, *hwsim.Chip) {
	t.Helper()
	chip := hwsim.New()
	rm := regmap.New(chip, zap.NewNop().Sugar())
	return mib.NewManager(rm, zap.NewNop().Sugar()), chip
}

func counter(t *testing.T, name string) mib.Counter {
	t.Helper()
	for _, c := range mib.Counters {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no counter %q", name)
	return mib.Counter{}
}

func TestReadCounter(t *testing.T) {
	m, chip := testManager(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		port  int
		value uint64
	}{
		// A four-word counter wider than 32 bits.
		{"ifInOctets", 0, 0x0123_4567_89AB_CDEF},
		// Two-word counters at both positions within a counter window.
		{"dot3StatsFCSErrors", 2, 0x8000_0001},
		{"dot3StatsSymbolErrors", 2, 42},
		// The last counter of the per-port block, on the last port.
		{"inKnownMulticastPkts", 10, 7},
	}
	for _, tc := range cases {
		c := counter(t, tc.name)
		chip.SetCounter(tc.port, c.Offset, c.Words, tc.value)
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := m.ReadCounter(ctx, tc.port, counter(t, tc.name))
			require.NoError(t, err)
			assert.Equal(t, tc.value, got)
		})
	}

	// An unset counter on another port reads zero.
	got, err := m.ReadCounter(ctx, 1, counter(t, "ifInOctets"))
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestPortCounters(t *testing.T) {
	m, chip := testManager(t)

	c := counter(t, "ifInUcastPkts")
	chip.SetCounter(3, c.Offset, c.Words, 1234)

	all, err := m.PortCounters(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, all, len(mib.Counters))
	assert.Equal(t, uint64(1234), all["ifInUcastPkts"])
	assert.Zero(t, all["ifInOctets"])
}

func TestReset(t *testing.T) {
	m, chip := testManager(t)
	ctx := context.Background()

	c := counter(t, "ifInOctets")
	chip.SetCounter(0, c.Offset, c.Words, 99)
	require.NoError(t, m.Reset(ctx))

	got, err := m.ReadCounter(ctx, 0, c)
	require.NoError(t, err)
	assert.Zero(t, got)
}

// failTransport reports the counter fetch failure flag on every control
// register read.
type failTransport struct {
	*hwsim.Chip
}

func (t failTransport) Read16(addr uint16) (uint16, error) {
	if addr == 0x1005 {
		return 0x0002, nil
	}
	return t.Chip.Read16(addr)
}

func TestReadFailed(t *testing.T) {
	rm := regmap.New(failTransport{hwsim.New()}, zap.NewNop().Sugar())
	m := mib.NewManager(rm, zap.NewNop().Sugar())

	_, err := m.ReadCounter(context.Background(), 0, mib.Counters[0])
	assert.ErrorIs(t, err, mib.ErrReadFailed)
}
