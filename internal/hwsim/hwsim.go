// Package hwsim models the register interface of the switch family in
// memory. It implements the same transport contract as the MDIO bus, so the
// whole management stack can run against it unmodified. The model covers the
// register file, the indirect table access engine with its four look-up
// tables, L2 flush, the MIB counter window and the chip reset and
// identification handshake.
package hwsim

import (
	"sync"

	"github.com/dsa-platform/rtl8365mb/table"
)

const (
	magicReg   = 0x13C2
	magicValue = 0x0249
	chipIDReg  = 0x1300
	chipVerReg = 0x1301

	chipResetReg    = 0x1322
	chipResetHWMask = 0x0001

	aclResetReg = 0x06D9

	l2FlushCtrl0ExtReg = 0x0A35
	l2FlushCtrl0Reg    = 0x0A36
	l2FlushCtrl1Reg    = 0x0A37
	l2FlushCtrl2Reg    = 0x0A38
	l2FlushAllReg      = 0x0A39

	mibCounterBase = 0x1000
	mibAddressReg  = 0x1004
	mibCtrl0Reg    = 0x1005
	mibResetMask   = 0x0002

	mibPortSpan = 0x007C
)

const (
	numPorts    = 11
	numL2Rows   = 2112
	numRuleMem  = 192
	numActions  = 96
	numVlans    = 4096
	ruleWords   = 10
	cvlanWords  = 3
	actionWords = 4
	l2Words     = 6
)

// L2 entry word layout, as far as the model needs to interpret it: the key
// fields for MAC searches and the liveness fields.
const (
	l2D2MCBitMask   = 0x0100
	l2D3KeyMask     = 0x2FFF
	l2D3PortExtMask = 0x8000
	l2D4KeyMask     = 0x007F
	l2D4PortMask    = 0x0700
	l2D4AgeMask     = 0x3800
	l2D4MemberMask  = 0x00FF
	l2D3MbrExt1Mask = 0xC000
	l2D5MbrExt2Mask = 0x0080
	l2D5StaticMask  = 0x0020
)

// Chip is an in-memory model of a single switch.
type Chip struct {
	// ChipID and ChipVer are reported through the identification
	// registers once the magic handshake is done.
	ChipID  uint16
	ChipVer uint16

	// StickyBusy keeps the table engine busy flag raised so that polling
	// paths can be driven into their timeout branch.
	StickyBusy bool
	// L2NoRoom makes the L2 table drop writes of new entries, emulating
	// a full hash bucket.
	L2NoRoom bool

	mu    sync.Mutex
	regs  map[uint16]uint16
	cvlan [numVlans][cvlanWords]uint16
	rules [numRuleMem][ruleWords]uint16
	acts  [numActions][actionWords]uint16
	l2    [numL2Rows][l2Words]uint16
	mib   [numPorts * mibPortSpan]uint16
}

func New() *Chip {
	return &Chip{
		ChipID:  0x6367,
		ChipVer: 0x0040,
		regs:    make(map[uint16]uint16),
	}
}

// SetCounter loads a MIB counter value so that reads observe it. The offset
// and word count follow the counter descriptor table.
func (c *Chip) SetCounter(port int, offset uint16, words int, value uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < words; i++ {
		c.mib[mibPortSpan*port+int(offset)+i] = uint16(value >> (16 * i))
	}
}

// L2Row exposes a raw row of the L2 table to tests.
func (c *Chip) L2Row(row int) [l2Words]uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.l2[row]
}

func (c *Chip) Read16(addr uint16) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case addr == chipIDReg:
		if c.regs[magicReg] == magicValue {
			return c.ChipID, nil
		}
		return 0, nil
	case addr == chipVerReg:
		if c.regs[magicReg] == magicValue {
			return c.ChipVer, nil
		}
		return 0, nil
	case addr == table.StatusReg:
		if c.StickyBusy {
			return c.regs[addr] | table.StatusBusyFlagMask, nil
		}
	case addr >= mibCounterBase && addr < mibCounterBase+4:
		base := int(c.regs[mibAddressReg]) * 4
		idx := base + int(addr-mibCounterBase)
		if idx < len(c.mib) {
			return c.mib[idx], nil
		}
		return 0, nil
	}

	return c.regs[addr], nil
}

func (c *Chip) Write16(addr, val uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch addr {
	case chipResetReg:
		if val&chipResetHWMask != 0 {
			c.reset()
			return nil
		}
	case table.CtrlReg:
		c.tableExec(val)
		return nil
	case aclResetReg:
		if val&1 != 0 {
			c.rules = [numRuleMem][ruleWords]uint16{}
		}
		return nil
	case l2FlushCtrl0Reg:
		c.l2Flush(val & 0x00FF)
		return nil
	case l2FlushCtrl0ExtReg:
		c.l2Flush((val & 0x0007) << 8)
		return nil
	case l2FlushAllReg:
		if val&1 != 0 {
			c.l2FlushAll()
		}
		return nil
	case mibCtrl0Reg:
		if val&mibResetMask != 0 {
			c.mib = [numPorts * mibPortSpan]uint16{}
		}
		return nil
	}

	c.regs[addr] = val
	return nil
}

func (c *Chip) WriteNoAck16(addr, val uint16) error {
	return c.Write16(addr, val)
}

func (c *Chip) reset() {
	c.regs = make(map[uint16]uint16)
	c.cvlan = [numVlans][cvlanWords]uint16{}
	c.rules = [numRuleMem][ruleWords]uint16{}
	c.acts = [numActions][actionWords]uint16{}
	c.l2 = [numL2Rows][l2Words]uint16{}
	c.mib = [numPorts * mibPortSpan]uint16{}
}

func (c *Chip) writeRegs() (d [table.EntryMaxSize]uint16) {
	for i := range d {
		d[i] = c.regs[table.WriteBase+uint16(i)]
	}
	return d
}

func (c *Chip) loadReadRegs(d []uint16) {
	for i := 0; i < table.EntryMaxSize; i++ {
		var w uint16
		if i < len(d) {
			w = d[i]
		}
		c.regs[table.ReadBase+uint16(i)] = w
	}
}

// tableExec runs one indirect table operation, triggered by a control
// register write. The operation completes instantly: the busy flag is never
// observed raised unless StickyBusy is set.
func (c *Chip) tableExec(ctrl uint16) {
	target := table.Target(ctrl & table.CtrlTargetMask)
	write := ctrl&table.CtrlCmdMask != 0
	method := table.L2Method((ctrl & table.CtrlMethodMask) >> 4)
	port := (ctrl & table.CtrlPortMask) >> 8
	addr := c.regs[table.AddrReg] & table.AddrMask

	c.regs[table.StatusReg] = 0

	switch target {
	case table.TargetCVLAN:
		vid := int(addr) % numVlans
		if write {
			d := c.writeRegs()
			copy(c.cvlan[vid][:], d[:cvlanWords])
		} else {
			c.loadReadRegs(c.cvlan[vid][:])
		}
	case table.TargetACLRule:
		idx := int(addr) % numRuleMem
		if write {
			d := c.writeRegs()
			copy(c.rules[idx][:], d[:ruleWords])
		} else {
			c.loadReadRegs(c.rules[idx][:])
		}
	case table.TargetACLAction:
		idx := int(addr) % numActions
		if write {
			d := c.writeRegs()
			copy(c.acts[idx][:], d[:actionWords])
		} else {
			c.loadReadRegs(c.acts[idx][:])
		}
	case table.TargetL2:
		c.l2Exec(write, method, addr, port)
	}
}

func l2Live(d [l2Words]uint16) bool {
	if d[2]&l2D2MCBitMask != 0 {
		member := d[4]&l2D4MemberMask |
			(d[3]&l2D3MbrExt1Mask)>>14<<8 |
			(d[5]&l2D5MbrExt2Mask)>>7<<10
		return member != 0
	}
	return d[4]&l2D4AgeMask != 0 || d[5]&l2D5StaticMask != 0
}

func l2Port(d [l2Words]uint16) uint16 {
	return (d[4]&l2D4PortMask)>>8 | (d[3]&l2D3PortExtMask)>>15<<3
}

func l2KeyEqual(a, b [l2Words]uint16) bool {
	if a[0] != b[0] || a[1] != b[1] || a[2] != b[2] {
		return false
	}
	if a[3]&l2D3KeyMask != b[3]&l2D3KeyMask {
		return false
	}
	// Unicast keys extend into the filter IDs.
	if a[2]&l2D2MCBitMask == 0 && a[4]&l2D4KeyMask != b[4]&l2D4KeyMask {
		return false
	}
	return true
}

func (c *Chip) l2Lookup(key [l2Words]uint16) int {
	for row := range c.l2 {
		if l2Live(c.l2[row]) && l2KeyEqual(c.l2[row], key) {
			return row
		}
	}
	return -1
}

func (c *Chip) l2Hit(row int) {
	status := uint16(row) & table.StatusAddrMask
	status |= uint16(row) >> 11 << 14 & table.StatusAddrExtMask
	status |= table.StatusHitMask
	c.regs[table.StatusReg] = status
}

func (c *Chip) l2Exec(write bool, method table.L2Method, addr, port uint16) {
	if write {
		d := c.writeRegs()
		var entry [l2Words]uint16
		copy(entry[:], d[:l2Words])

		row := c.l2Lookup(entry)
		if row < 0 {
			if c.L2NoRoom {
				// No room in the hash bucket: the write is
				// silently dropped, which callers detect by
				// reading the entry back.
				c.l2Hit(0)
				return
			}
			for r := range c.l2 {
				if !l2Live(c.l2[r]) {
					row = r
					break
				}
			}
			if row < 0 {
				c.l2Hit(0)
				return
			}
		}

		c.l2[row] = entry
		c.l2Hit(row)
		return
	}

	switch method {
	case table.L2MethodMAC:
		d := c.writeRegs()
		var key [l2Words]uint16
		copy(key[:], d[:l2Words])

		row := c.l2Lookup(key)
		if row < 0 {
			return
		}
		c.loadReadRegs(c.l2[row][:])
		c.l2Hit(row)
	case table.L2MethodAddr:
		row := int(addr) % numL2Rows
		if !l2Live(c.l2[row]) {
			return
		}
		c.loadReadRegs(c.l2[row][:])
		c.l2Hit(row)
	case table.L2MethodAddrNext, table.L2MethodAddrNextUC,
		table.L2MethodAddrNextMC, table.L2MethodAddrNextUCPort:
		row := c.l2Next(int(addr)%numL2Rows, method, port)
		if row < 0 {
			return
		}
		c.loadReadRegs(c.l2[row][:])
		c.l2Hit(row)
	}
}

// l2Next scans for the next live entry of the wanted kind, wrapping around
// the end of the table.
func (c *Chip) l2Next(start int, method table.L2Method, port uint16) int {
	match := func(d [l2Words]uint16) bool {
		if !l2Live(d) {
			return false
		}
		mc := d[2]&l2D2MCBitMask != 0
		switch method {
		case table.L2MethodAddrNextUC:
			return !mc
		case table.L2MethodAddrNextMC:
			return mc
		case table.L2MethodAddrNextUCPort:
			return !mc && l2Port(d) == port
		}
		return true
	}

	for i := 0; i < numL2Rows; i++ {
		row := (start + i) % numL2Rows
		if match(c.l2[row]) {
			return row
		}
	}
	return -1
}

// l2Flush drops dynamic unicast entries learned on the ports in mask. When
// the flush mode register selects flushing by port and VID, only entries
// with the VID in the flush VID register are dropped.
func (c *Chip) l2Flush(mask uint16) {
	byVID := c.regs[l2FlushCtrl2Reg]&1 != 0
	vid := c.regs[l2FlushCtrl1Reg] & 0x0FFF

	for row := range c.l2 {
		d := c.l2[row]
		if !l2Live(d) || d[2]&l2D2MCBitMask != 0 {
			continue
		}
		if d[5]&l2D5StaticMask != 0 {
			continue
		}
		if mask&(1<<l2Port(d)) == 0 {
			continue
		}
		if byVID && d[3]&0x0FFF != vid {
			continue
		}
		c.l2[row] = [l2Words]uint16{}
	}
}

func (c *Chip) l2FlushAll() {
	for row := range c.l2 {
		d := c.l2[row]
		if d[2]&l2D2MCBitMask == 0 && d[5]&l2D5StaticMask == 0 {
			c.l2[row] = [l2Words]uint16{}
		}
	}
}
