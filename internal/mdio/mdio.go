// Package mdio provides switch register access over an MDIO bus.
//
// The switch does not expose its registers through the usual clause-22 PHY
// register space. Instead a small command protocol is tunneled through the
// PHY registers of a single bus address: the start opcode arms the decoder,
// then the register address and data are shuttled through dedicated
// PHY registers. The bus itself is reached through the Linux MII ioctls on
// a network interface whose MAC owns the MDIO master.
package mdio

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PHY register numbers used by the tunnel protocol.
const (
	ctrl0Reg     = 31
	startReg     = 29
	dataReadReg  = 25
	dataWriteReg = 24
	addressReg   = 23
	ctrl1Reg     = 21
)

// Tunnel opcodes.
const (
	startOp = 0xFFFF
	addrOp  = 0x000E
	readOp  = 0x0001
	writeOp = 0x0003
)

// Config is the configuration for the MDIO bus transport.
type Config struct {
	// Interface is the network interface whose MDIO bus the switch
	// is attached to.
	Interface string `yaml:"interface"`
	// PhyID is the bus address the switch listens on.
	PhyID uint16 `yaml:"phy_id"`
}

func DefaultConfig() *Config {
	return &Config{
		Interface: "eth0",
		PhyID:     0,
	}
}

// ifreq with an embedded mii_ioctl_data payload.
type miiReq struct {
	name   [unix.IFNAMSIZ]byte
	phyID  uint16
	regNum uint16
	valIn  uint16
	valOut uint16
	_      [16]byte
}

// Bus is a switch register transport over the Linux MII ioctls.
type Bus struct {
	mu    sync.Mutex
	fd    int
	name  [unix.IFNAMSIZ]byte
	phyID uint16
}

// Open creates a bus handle bound to the configured interface.
func Open(cfg *Config) (*Bus, error) {
	if len(cfg.Interface) >= unix.IFNAMSIZ {
		return nil, fmt.Errorf("interface name %q too long", cfg.Interface)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("open mdio socket: %w", err)
	}

	bus := &Bus{
		fd:    fd,
		phyID: cfg.PhyID,
	}
	copy(bus.name[:], cfg.Interface)

	return bus, nil
}

func (m *Bus) Close() error {
	return unix.Close(m.fd)
}

func (m *Bus) mii(cmd uintptr, reg, val uint16) (uint16, error) {
	req := miiReq{
		name:   m.name,
		phyID:  m.phyID,
		regNum: reg,
		valIn:  val,
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(m.fd), cmd,
		uintptr(unsafe.Pointer(&req)))
	if errno != 0 {
		return 0, fmt.Errorf("mii ioctl 0x%x reg %d: %w", cmd, reg, errno)
	}

	return req.valOut, nil
}

func (m *Bus) phyWrite(reg, val uint16) error {
	_, err := m.mii(unix.SIOCSMIIREG, reg, val)
	return err
}

func (m *Bus) phyRead(reg uint16) (uint16, error) {
	return m.mii(unix.SIOCGMIIREG, reg, 0)
}

// Read16 reads a switch register.
func (m *Bus) Read16(addr uint16) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq := [...][2]uint16{
		{startReg, startOp},
		{ctrl0Reg, addrOp},
		{startReg, startOp},
		{addressReg, addr},
		{startReg, startOp},
		{ctrl1Reg, readOp},
		{startReg, startOp},
	}
	for _, wr := range seq {
		if err := m.phyWrite(wr[0], wr[1]); err != nil {
			return 0, err
		}
	}

	return m.phyRead(dataReadReg)
}

// Write16 writes a switch register.
func (m *Bus) Write16(addr, val uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.write(addr, val)
}

// WriteNoAck16 writes a switch register without waiting for completion. The
// MII ioctl interface offers no stronger guarantee than Write16, so this is
// an alias. It exists because some registers, notably the chip reset
// register, must be written by callers prepared for the chip to stop
// responding mid-transaction.
func (m *Bus) WriteNoAck16(addr, val uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.write(addr, val)
}

func (m *Bus) write(addr, val uint16) error {
	seq := [...][2]uint16{
		{startReg, startOp},
		{ctrl0Reg, addrOp},
		{startReg, startOp},
		{addressReg, addr},
		{startReg, startOp},
		{dataWriteReg, val},
		{startReg, startOp},
		{ctrl1Reg, writeOp},
	}
	for _, wr := range seq {
		if err := m.phyWrite(wr[0], wr[1]); err != nil {
			return err
		}
	}

	return nil
}
