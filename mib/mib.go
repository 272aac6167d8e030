// Package mib reads the per-port MIB counters of the switch.
//
// The counters live in an SRAM behind a small request interface: the driver
// writes a per-port word address to the address register, polls the control
// register until the fetch completes, then reads the value out of the four
// counter registers.
package mib

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dsa-platform/rtl8365mb/regmap"
)

const (
	counterBase = 0x1000

	addressReg = 0x1004
	// each port occupies this many octets of counter SRAM
	addressPortSpan = 0x007C

	ctrl0Reg       = 0x1005
	ctrl0ResetMask = 0x0002
	ctrl0BusyMask  = 0x0001
)

const (
	pollInterval = 10 * time.Microsecond
	pollTimeout  = 100 * time.Microsecond
)

// ErrReadFailed is returned when the chip flags a counter fetch failure.
var ErrReadFailed = errors.New("mib counter read failed")

// Counter describes one MIB counter: its octet offset in the per-port SRAM
// region and its length in 16-bit words.
type Counter struct {
	Name   string
	Offset uint16
	Words  int
}

// Counters lists every counter the chip maintains, in SRAM order. The names
// follow the SNMP MIBs they are drawn from.
var Counters = []Counter{
	{"ifInOctets", 0, 4},
	{"dot3StatsFCSErrors", 4, 2},
	{"dot3StatsSymbolErrors", 6, 2},
	{"dot3InPauseFrames", 8, 2},
	{"dot3ControlInUnknownOpcodes", 10, 2},
	{"etherStatsFragments", 12, 2},
	{"etherStatsJabbers", 14, 2},
	{"ifInUcastPkts", 16, 2},
	{"etherStatsDropEvents", 18, 2},
	{"ifInMulticastPkts", 20, 2},
	{"ifInBroadcastPkts", 22, 2},
	{"inMldChecksumError", 24, 2},
	{"inIgmpChecksumError", 26, 2},
	{"inMldSpecificQuery", 28, 2},
	{"inMldGeneralQuery", 30, 2},
	{"inIgmpSpecificQuery", 32, 2},
	{"inIgmpGeneralQuery", 34, 2},
	{"inMldLeaves", 36, 2},
	{"inIgmpLeaves", 38, 2},
	{"etherStatsOctets", 40, 4},
	{"etherStatsUnderSizePkts", 44, 2},
	{"etherOversizeStats", 46, 2},
	{"etherStatsPkts64Octets", 48, 2},
	{"etherStatsPkts65to127Octets", 50, 2},
	{"etherStatsPkts128to255Octets", 52, 2},
	{"etherStatsPkts256to511Octets", 54, 2},
	{"etherStatsPkts512to1023Octets", 56, 2},
	{"etherStatsPkts1024to1518Octets", 58, 2},
	{"ifOutOctets", 60, 4},
	{"dot3StatsSingleCollisionFrames", 64, 2},
	{"dot3StatsMultipleCollisionFrames", 66, 2},
	{"dot3StatsDeferredTransmissions", 68, 2},
	{"dot3StatsLateCollisions", 70, 2},
	{"etherStatsCollisions", 72, 2},
	{"dot3StatsExcessiveCollisions", 74, 2},
	{"dot3OutPauseFrames", 76, 2},
	{"ifOutDiscards", 78, 2},
	{"dot1dTpPortInDiscards", 80, 2},
	{"ifOutUcastPkts", 82, 2},
	{"ifOutMulticastPkts", 84, 2},
	{"ifOutBroadcastPkts", 86, 2},
	{"outOampduPkts", 88, 2},
	{"inOampduPkts", 90, 2},
	{"inIgmpJoinsSuccess", 92, 4},
	{"inIgmpJoinsFail", 96, 2},
	{"inMldJoinsSuccess", 98, 2},
	{"inMldJoinsFail", 100, 2},
	{"inReportSuppressionDrop", 102, 2},
	{"inLeaveSuppressionDrop", 104, 2},
	{"outIgmpReports", 106, 2},
	{"outIgmpLeaves", 108, 2},
	{"outIgmpGeneralQuery", 110, 2},
	{"outIgmpSpecificQuery", 112, 2},
	{"outMldReports", 114, 2},
	{"outMldLeaves", 116, 2},
	{"outMldGeneralQuery", 118, 2},
	{"outMldSpecificQuery", 120, 2},
	{"inKnownMulticastPkts", 122, 2},
}

// Manager reads MIB counters of a single chip.
type Manager struct {
	rm  *regmap.Regmap
	log *zap.SugaredLogger
}

func NewManager(rm *regmap.Regmap, log *zap.SugaredLogger) *Manager {
	return &Manager{
		rm:  rm,
		log: log.With(zap.String("module", "mib")),
	}
}

// ReadCounter fetches one counter value for a port.
func (m *Manager) ReadCounter(ctx context.Context, port int, c Counter) (uint64, error) {
	var value uint64

	err := m.rm.Locked(func(ops regmap.Ops) error {
		// The address register takes an SRAM word address.
		addr := (addressPortSpan*uint16(port) + c.Offset) >> 2
		if err := ops.Write16(addressReg, addr); err != nil {
			return err
		}

		if err := ops.Poll16(ctx, ctrl0Reg, ctrl0BusyMask, 0,
			pollInterval, pollTimeout); err != nil {
			return err
		}

		ctrl, err := ops.Read16(ctrl0Reg)
		if err != nil {
			return err
		}
		if ctrl&ctrl0ResetMask != 0 {
			return fmt.Errorf("%s port %d: %w", c.Name, port, ErrReadFailed)
		}

		// Four counter registers hold one 16-bit word each. Two-word
		// counters land in either the upper or the lower pair
		// depending on the offset; four-word counters use all four.
		top := uint16(3)
		if c.Words != 4 {
			top = (c.Offset + 1) % 4
		}

		value = 0
		for i := 0; i < c.Words; i++ {
			w, err := ops.Read16(counterBase + top - uint16(i))
			if err != nil {
				return err
			}
			value = value<<16 | uint64(w)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return value, nil
}

// PortCounters reads all counters of a port into a name-keyed map.
func (m *Manager) PortCounters(ctx context.Context, port int) (map[string]uint64, error) {
	out := make(map[string]uint64, len(Counters))
	for _, c := range Counters {
		v, err := m.ReadCounter(ctx, port, c)
		if err != nil {
			return nil, err
		}
		out[c.Name] = v
	}
	return out, nil
}

// Reset zeroes all MIB counters.
func (m *Manager) Reset(ctx context.Context) error {
	if err := m.rm.Write16(ctrl0Reg, ctrl0ResetMask); err != nil {
		return err
	}

	m.log.Debugw("mib counters reset")

	return m.rm.Poll16(ctx, ctrl0Reg, ctrl0ResetMask, 0,
		time.Millisecond, 100*time.Millisecond)
}
