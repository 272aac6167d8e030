// Package table implements the indirect query interface for the look-up
// tables of the switch. Some tables, like the ACL tables or CVLAN, are plain
// indexed tables. The L2 table is a hash table and supports a number of
// search methods. All of them follow the same underlying access model, which
// is abstracted away for the rest of the module here.
//
// The engine does not interpret the entry data it moves: packing and
// unpacking is up to the caller.
package table

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dsa-platform/rtl8365mb/internal/field"
	"github.com/dsa-platform/rtl8365mb/regmap"
)

// Registers of the table access engine. Entry data moves through the write
// and read register windows, one 16-bit word per register.
const (
	CtrlReg        = 0x0500
	CtrlPortMask   = 0x0F00
	CtrlMethodMask = 0x0070
	CtrlCmdMask    = 0x0008
	CtrlTargetMask = 0x0007

	AddrReg  = 0x0501
	AddrMask = 0x1FFF

	StatusReg          = 0x0502
	StatusAddrExtMask  = 0x4000
	StatusBusyFlagMask = 0x2000
	StatusHitMask      = 0x1000
	StatusTypeMask     = 0x0800
	StatusAddrMask     = 0x07FF

	WriteBase = 0x0510
	ReadBase  = 0x0520

	// EntryMaxSize is the largest table entry, in 16-bit words.
	EntryMaxSize = 10
)

// Target selects one of the look-up tables. The values concur with the
// target field of the control register.
type Target uint16

const (
	TargetACLRule   Target = 1
	TargetACLAction Target = 2
	TargetCVLAN     Target = 3
	TargetL2        Target = 4
)

const (
	cmdRead  = 0
	cmdWrite = 1
)

// L2Method selects the search method for read queries of the L2 table. The
// values concur with the method field of the control register.
type L2Method uint16

const (
	// L2MethodMAC searches by the packed key carried in the entry data.
	L2MethodMAC L2Method = 0
	// L2MethodAddr reads the entry at the given row address.
	L2MethodAddr L2Method = 1
	// L2MethodAddrNext finds the first valid entry at or after the given
	// row address.
	L2MethodAddrNext L2Method = 2
	// L2MethodAddrNextUC is AddrNext restricted to unicast entries.
	L2MethodAddrNextUC L2Method = 3
	// L2MethodAddrNextMC is AddrNext restricted to multicast entries.
	L2MethodAddrNextMC L2Method = 4
	// L2MethodAddrNextUCPort is AddrNextUC restricted to entries learned
	// on the given source port.
	L2MethodAddrNextUCPort L2Method = 7
)

var (
	// ErrNotFound is returned when an L2 query does not hit an entry.
	ErrNotFound = errors.New("no matching table entry")
	// ErrEntrySize is returned when the entry data exceeds EntryMaxSize
	// words.
	ErrEntrySize = errors.New("table entry data too long")
)

// Query addresses an entry in one of the tables. Each table has its own
// concrete query type, so a caller cannot pass an ACL rule address to an L2
// lookup by mistake.
type Query interface {
	target() Target
	addr() uint16
	// setAddr records the entry address reported back by the engine.
	// Only L2 queries do anything with it.
	setAddr(uint16)
}

// ACLRuleQuery addresses an entry of the ACL rule table.
type ACLRuleQuery struct {
	Addr uint16
}

func (q *ACLRuleQuery) target() Target { return TargetACLRule }
func (q *ACLRuleQuery) addr() uint16   { return q.Addr }
func (q *ACLRuleQuery) setAddr(uint16) {}

// ACLActionQuery addresses an entry of the ACL action table.
type ACLActionQuery struct {
	Addr uint16
}

func (q *ACLActionQuery) target() Target { return TargetACLAction }
func (q *ACLActionQuery) addr() uint16   { return q.Addr }
func (q *ACLActionQuery) setAddr(uint16) {}

// CVLANQuery addresses an entry of the VLAN4k table by VID.
type CVLANQuery struct {
	Addr uint16
}

func (q *CVLANQuery) target() Target { return TargetCVLAN }
func (q *CVLANQuery) addr() uint16   { return q.Addr }
func (q *CVLANQuery) setAddr(uint16) {}

// L2Query addresses an entry of the L2 table.
//
// Method is ignored on write. Addr is ignored as an input on write, and on
// read with method MAC; on successful completion it holds the row address of
// the entry that was read or written. Port is used only with method
// AddrNextUCPort.
type L2Query struct {
	Method L2Method
	Addr   uint16
	Port   uint16
}

func (q *L2Query) target() Target   { return TargetL2 }
func (q *L2Query) addr() uint16     { return q.Addr }
func (q *L2Query) setAddr(a uint16) { q.Addr = a }

const (
	pollInterval = 10 * time.Microsecond
	pollTimeout  = 100 * time.Microsecond
)

// Engine executes queries against the look-up tables of a single chip.
type Engine struct {
	rm  *regmap.Regmap
	log *zap.SugaredLogger
}

func NewEngine(rm *regmap.Regmap, log *zap.SugaredLogger) *Engine {
	return &Engine{
		rm:  rm,
		log: log.With(zap.String("module", "table")),
	}
}

// Read executes a read query and fills data with the entry words. An L2 read
// that does not hit an entry returns ErrNotFound.
func (e *Engine) Read(ctx context.Context, q Query, data []uint16) error {
	return e.query(ctx, q, cmdRead, data)
}

// Write executes a write query, storing the entry words from data. An L2
// write reports the row address the entry landed in through the query.
func (e *Engine) Write(ctx context.Context, q Query, data []uint16) error {
	return e.query(ctx, q, cmdWrite, data)
}

func (e *Engine) query(ctx context.Context, q Query, cmd uint16, data []uint16) error {
	if len(data) > EntryMaxSize {
		return fmt.Errorf("%w: %d words", ErrEntrySize, len(data))
	}

	target := q.target()
	l2, isL2 := q.(*L2Query)

	ctrl := field.Prep(CtrlTargetMask, uint16(target))
	ctrl |= field.Prep(CtrlCmdMask, cmd)

	if isL2 && cmd == cmdRead {
		ctrl |= field.Prep(CtrlMethodMask, uint16(l2.Method))
		if l2.Method == L2MethodAddrNextUCPort {
			ctrl |= field.Prep(CtrlPortMask, l2.Port)
		}
	}

	// The whole sequence must not interleave with other register traffic,
	// so it runs under the regmap lock.
	return e.rm.Locked(func(ops regmap.Ops) error {
		// The key for a MAC search is loaded through the write
		// registers, just like entry data on a write.
		writeData := cmd == cmdWrite ||
			(isL2 && cmd == cmdRead && l2.Method == L2MethodMAC)
		if writeData {
			for i, w := range data {
				if err := ops.Write16(WriteBase+uint16(i), w); err != nil {
					return err
				}
			}
		}

		// A MAC search carries its key in the data, not the address
		// register.
		if !isL2 || l2.Method != L2MethodMAC {
			addr := field.Prep(AddrMask, q.addr())
			if err := ops.Write16(AddrReg, addr); err != nil {
				return err
			}
		}

		if err := ops.Write16(CtrlReg, ctrl); err != nil {
			return err
		}

		if err := ops.Poll16(ctx, StatusReg, StatusBusyFlagMask, 0,
			pollInterval, pollTimeout); err != nil {
			return err
		}

		// Both reads and writes to the L2 table report hit status and
		// the row address of the affected entry.
		if isL2 {
			status, err := ops.Read16(StatusReg)
			if err != nil {
				return err
			}
			if !field.Bit(StatusHitMask, status) {
				return ErrNotFound
			}

			addr := field.Get(StatusAddrMask, status)
			addr |= field.Get(StatusAddrExtMask, status) << 11
			addr |= field.Get(StatusTypeMask, status) << 12
			q.setAddr(addr)
		}

		if cmd == cmdRead {
			for i := range data {
				w, err := ops.Read16(ReadBase + uint16(i))
				if err != nil {
					return err
				}

				// The uppermost register of the biggest
				// entries has room for a single nibble.
				if i == EntryMaxSize-1 {
					w &= 0xF
				}
				data[i] = w
			}
		}

		return nil
	})
}
