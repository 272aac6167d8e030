package regmap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memTransport keeps registers in a map and counts accesses. failRead makes
// every Read16 fail, to exercise error wrapping.
type memTransport struct {
	regs     map[uint16]uint16
	reads    int
	writes   int
	failRead error

	// busyFor makes reads of busyAddr report busyVal for the first
	// busyFor reads, then fall through to the stored value.
	busyAddr uint16
	busyVal  uint16
	busyFor  int
}

func newMemTransport() *memTransport {
	return &memTransport{regs: map[uint16]uint16{}}
}

func (t *memTransport) Read16(addr uint16) (uint16, error) {
	t.reads++
	if t.failRead != nil {
		return 0, t.failRead
	}
	if t.busyFor > 0 && addr == t.busyAddr {
		t.busyFor--
		return t.busyVal, nil
	}
	return t.regs[addr], nil
}

func (t *memTransport) Write16(addr, val uint16) error {
	t.writes++
	t.regs[addr] = val
	return nil
}

func (t *memTransport) WriteNoAck16(addr, val uint16) error {
	return t.Write16(addr, val)
}

func testRegmap(t *memTransport) *Regmap {
	return New(t, zap.NewNop().Sugar())
}

func TestReadWrite(t *testing.T) {
	tr := newMemTransport()
	rm := testRegmap(tr)

	require.NoError(t, rm.Write16(0x1300, 0x6367))
	v, err := rm.Read16(0x1300)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x6367), v)
}

func TestReadError(t *testing.T) {
	tr := newMemTransport()
	tr.failRead = errors.New("mdio: no such device")
	rm := testRegmap(tr)

	_, err := rm.Read16(0x1300)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x1300")
	assert.ErrorIs(t, err, tr.failRead)
}

func TestUpdate16(t *testing.T) {
	cases := []struct {
		name     string
		initial  uint16
		mask     uint16
		val      uint16
		expected uint16
	}{
		{"set low byte", 0xAB00, 0x00FF, 0x00CD, 0xABCD},
		{"clear bits", 0xFFFF, 0x0F00, 0x0000, 0xF0FF},
		{"val truncated by mask", 0x0000, 0x000F, 0xFFFF, 0x000F},
		{"no-op mask", 0x1234, 0x0000, 0xFFFF, 0x1234},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := newMemTransport()
			tr.regs[0x0700] = tc.initial
			rm := testRegmap(tr)

			require.NoError(t, rm.Update16(0x0700, tc.mask, tc.val))
			assert.Equal(t, tc.expected, tr.regs[0x0700])
		})
	}
}

func TestPoll16(t *testing.T) {
	t.Run("already clear", func(t *testing.T) {
		tr := newMemTransport()
		rm := testRegmap(tr)

		err := rm.Poll16(context.Background(), 0x0502, 0x2000, 0, time.Microsecond, time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, 1, tr.reads)
	})

	t.Run("clears after a few polls", func(t *testing.T) {
		tr := newMemTransport()
		tr.busyAddr = 0x0502
		tr.busyVal = 0x2000
		tr.busyFor = 3
		rm := testRegmap(tr)

		err := rm.Poll16(context.Background(), 0x0502, 0x2000, 0, time.Microsecond, time.Second)
		require.NoError(t, err)
		assert.Equal(t, 4, tr.reads)
	})

	t.Run("timeout", func(t *testing.T) {
		tr := newMemTransport()
		tr.regs[0x0502] = 0x2000
		rm := testRegmap(tr)

		err := rm.Poll16(context.Background(), 0x0502, 0x2000, 0, 10*time.Microsecond, time.Millisecond)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Greater(t, tr.reads, 1)
	})

	t.Run("transport error is permanent", func(t *testing.T) {
		tr := newMemTransport()
		tr.failRead = errors.New("mdio: bus fault")
		rm := testRegmap(tr)

		err := rm.Poll16(context.Background(), 0x0502, 0x2000, 0, 10*time.Microsecond, time.Second)
		require.Error(t, err)
		assert.ErrorIs(t, err, tr.failRead)
		assert.NotErrorIs(t, err, ErrTimeout)
		assert.Equal(t, 1, tr.reads)
	})
}

func TestLockedSequence(t *testing.T) {
	tr := newMemTransport()
	rm := testRegmap(tr)

	err := rm.Locked(func(o Ops) error {
		if err := o.Write16(0x0510, 0x1234); err != nil {
			return err
		}
		return o.Update16(0x0510, 0x00FF, 0x0056)
	})
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1256), tr.regs[0x0510])
}
