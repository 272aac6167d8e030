// Package switchd is the management core for a family of Realtek Ethernet
// switches. It owns the register map of a single chip and exposes the
// operations of the management plane: chip identification and reset, initial
// bring-up, port configuration, VLAN programming, the L2 forwarding database
// and the MIB counters.
package switchd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dsa-platform/rtl8365mb/acl"
	"github.com/dsa-platform/rtl8365mb/internal/field"
	"github.com/dsa-platform/rtl8365mb/l2"
	"github.com/dsa-platform/rtl8365mb/mib"
	"github.com/dsa-platform/rtl8365mb/regmap"
	"github.com/dsa-platform/rtl8365mb/table"
	"github.com/dsa-platform/rtl8365mb/vlan"
)

const (
	// MaxNumPorts is the number of ports of the biggest chip in the
	// family.
	MaxNumPorts = 11
	// PortMask covers all ports.
	PortMask = 0x07FF
)

// CPU port registers.
const (
	cpuPortMaskReg     = 0x1219
	cpuPortMaskMask    = 0x07FF
	cpuCtrlReg         = 0x121A
	cpuTrapPortExtMask = 0x0400
	cpuTagFormatMask   = 0x0200
	cpuRxByteCountMask = 0x0080
	cpuTagPositionMask = 0x0040
	cpuTrapPortMask    = 0x0038
	cpuInsertModeMask  = 0x0006
	cpuEnableMask      = 0x0001
)

// Maximum packet length register.
const (
	maxLenReg    = 0x088C
	maxLenMask   = 0x3FFF
	maxFrameSize = 0x3FFF

	// Ethernet header with one VLAN tag, plus the frame checksum.
	frameOverhead = 22
)

// Per-port configuration registers.
const (
	learnLimitBase = 0x0A20

	isolationBase = 0x08A2
	isolationMask = 0x07FF

	efidBase = 0x0A32

	mstiCtrlBase = 0x0A00

	ucastFloodReg = 0x0890
	mcastFloodReg = 0x0891
	bcastFloodReg = 0x0892
)

// Spanning tree port states.
type STPState uint16

const (
	STPDisabled   STPState = 0
	STPBlocking   STPState = 1
	STPLearning   STPState = 2
	STPForwarding STPState = 3
)

// Switchd manages one switch chip.
type Switchd struct {
	cfg *Config
	log *zap.SugaredLogger

	rm    *regmap.Regmap
	eng   *table.Engine
	vlans *vlan.Manager
	acls  *acl.Manager
	fdb   *l2.Manager
	stats *mib.Manager

	chip *ChipInfo

	// Reserved VLAN membership configs, allocated during setup.
	mcNull    *vlan.Entry
	mcUnaware *vlan.Entry

	pvid [MaxNumPorts]uint16

	cpuMask  uint16
	trapPort int
}

// New builds a switch manager on top of a register transport. The transport
// is usually the MDIO bus, or a simulated chip in tests.
func New(t regmap.Transport, cfg *Config, log *zap.SugaredLogger) *Switchd {
	rm := regmap.New(t, log)
	eng := table.NewEngine(rm, log)

	return &Switchd{
		cfg:   cfg,
		log:   log.With(zap.String("module", "switchd")),
		rm:    rm,
		eng:   eng,
		vlans: vlan.NewManager(rm, eng, log),
		acls:  acl.NewManager(rm, eng, log),
		fdb:   l2.NewManager(rm, eng, log),
		stats: mib.NewManager(rm, log),
	}
}

// Regmap exposes the raw register map.
func (m *Switchd) Regmap() *regmap.Regmap { return m.rm }

// VLANs exposes the VLAN table manager.
func (m *Switchd) VLANs() *vlan.Manager { return m.vlans }

// ACLs exposes the ACL manager.
func (m *Switchd) ACLs() *acl.Manager { return m.acls }

// FDB exposes the L2 forwarding database manager.
func (m *Switchd) FDB() *l2.Manager { return m.fdb }

// Stats exposes the MIB counter manager.
func (m *Switchd) Stats() *mib.Manager { return m.stats }

// Chip reports the detected chip, or nil before Detect has run.
func (m *Switchd) Chip() *ChipInfo { return m.chip }

// Setup brings the chip from its power-on state to a vendor-defined initial
// configuration: CPU tagging enabled, all user ports isolated to the CPU
// ports with learning disabled and flooding on, and VLAN-unaware operation.
// Detect must have identified the chip first.
func (m *Switchd) Setup(ctx context.Context) error {
	if m.chip == nil {
		return fmt.Errorf("setup: chip not detected")
	}

	if err := m.Reset(ctx); err != nil {
		return fmt.Errorf("reset chip: %w", err)
	}

	if err := m.jamInit(); err != nil {
		return fmt.Errorf("initialize switch: %w", err)
	}

	if err := m.cpuConfig(); err != nil {
		return fmt.Errorf("configure cpu tagging: %w", err)
	}

	for port := 0; port < MaxNumPorts; port++ {
		// Administratively down by default: without this, ports
		// forward frames to the CPU right after reset.
		if err := m.SetSTPState(port, STPDisabled); err != nil {
			return err
		}

		// Forward only to the CPU.
		if err := m.SetIsolation(port, m.cpuMask); err != nil {
			return err
		}

		if err := m.SetLearning(port, false); err != nil {
			return err
		}

		if err := m.SetUcastFlood(port, true); err != nil {
			return err
		}
		if err := m.SetMcastFlood(port, true); err != nil {
			return err
		}
		if err := m.SetBcastFlood(port, true); err != nil {
			return err
		}
	}

	if err := m.SetMTU(m.cfg.MTU); err != nil {
		return err
	}

	if err := m.vlanSetup(ctx); err != nil {
		return fmt.Errorf("set up vlan: %w", err)
	}

	m.log.Infow("switch set up",
		zap.String("chip", m.chip.Name),
		zap.Uint16("cpu_ports", m.cpuMask))

	return nil
}

// cpuConfig programs which ports are treated as CPU ports and how the CPU
// tag is inserted. Trapped frames go to the first configured CPU port.
func (m *Switchd) cpuConfig() error {
	m.cpuMask = 0
	m.trapPort = MaxNumPorts
	for _, port := range m.cfg.CPU.Ports {
		m.cpuMask |= 1 << port
		if m.trapPort == MaxNumPorts {
			m.trapPort = port
		}
	}

	err := m.rm.Update16(cpuPortMaskReg, cpuPortMaskMask,
		field.Prep(cpuPortMaskMask, m.cpuMask))
	if err != nil {
		return err
	}

	var enable uint16
	if m.cpuMask != 0 {
		enable = 1
	}

	// Tag inserted into all frames, positioned after the source address,
	// in the 8 byte format, with a 64 byte minimum RX length.
	val := field.Prep(cpuEnableMask, enable)
	val |= field.Prep(cpuInsertModeMask, 0)
	val |= field.Prep(cpuTagPositionMask, 0)
	val |= field.Prep(cpuRxByteCountMask, 1)
	val |= field.Prep(cpuTagFormatMask, 0)
	val |= field.Prep(cpuTrapPortMask, uint16(m.trapPort)&0x7)
	val |= field.Prep(cpuTrapPortExtMask, uint16(m.trapPort)>>3&0x1)

	return m.rm.Write16(cpuCtrlReg, val)
}

// SetMTU programs the global maximum packet length from an MTU value.
func (m *Switchd) SetMTU(mtu int) error {
	frameSize := mtu + frameOverhead
	if frameSize > maxFrameSize {
		return fmt.Errorf("mtu %d too large", mtu)
	}

	m.log.Debugw("changing mtu",
		zap.Int("mtu", mtu), zap.Int("frame_size", frameSize))

	return m.rm.Update16(maxLenReg, maxLenMask,
		field.Prep(maxLenMask, uint16(frameSize)))
}

// MaxMTU reports the largest programmable MTU.
func MaxMTU() int {
	return maxFrameSize - frameOverhead
}
