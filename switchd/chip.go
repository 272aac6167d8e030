package switchd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dsa-platform/rtl8365mb/internal/field"
)

// Chip identification registers. The identification registers only respond
// after a magic value has been written to an otherwise undocumented
// register.
const (
	chipIDReg  = 0x1300
	chipVerReg = 0x1301

	magicReg   = 0x13C2
	magicValue = 0x0249
)

// Chip reset register.
const (
	chipResetReg    = 0x1322
	chipResetSWMask = 0x0002
	chipResetHWMask = 0x0001
)

// ErrUnknownChip is returned when the chip identification does not match any
// supported switch.
var ErrUnknownChip = errors.New("unrecognized switch")

// ChipInfo is the static description of one switch in the family.
type ChipInfo struct {
	Name    string
	ChipID  uint16
	ChipVer uint16

	jamTable []jamEntry
}

type jamEntry struct {
	reg uint16
	val uint16
}

// Initialization values lifted from the vendor driver sources.
var jamTable8365mbVC = []jamEntry{
	{0x13EB, 0x15BB}, {0x1303, 0x06D6}, {0x1304, 0x0700},
	{0x13E2, 0x003F}, {0x13F9, 0x0090}, {0x121E, 0x03CA},
	{0x1233, 0x0352}, {0x1237, 0x00A0}, {0x123A, 0x0030},
	{0x1239, 0x0084}, {0x0301, 0x1000}, {0x1349, 0x001F},
	{0x18E0, 0x4004}, {0x122B, 0x241C}, {0x1305, 0xC000},
	{0x13F0, 0x0000},
}

var jamTableCommon = []jamEntry{
	{0x1200, 0x7FCB}, {0x0884, 0x0003}, {0x06EB, 0x0001},
	{0x03FA, 0x0007}, {0x08C8, 0x00C0}, {0x0A30, 0x020E},
	{0x0800, 0x0000}, {0x0802, 0x0000}, {0x09DA, 0x0013},
	{0x1D32, 0x0002},
}

var chipInfos = []ChipInfo{
	{
		Name:     "RTL8365MB-VC",
		ChipID:   0x6367,
		ChipVer:  0x0040,
		jamTable: jamTable8365mbVC,
	},
	{
		Name:     "RTL8367S",
		ChipID:   0x6367,
		ChipVer:  0x00A0,
		jamTable: jamTable8365mbVC,
	},
	{
		Name:     "RTL8367RB-VB",
		ChipID:   0x6367,
		ChipVer:  0x0020,
		jamTable: jamTable8365mbVC,
	},
}

func (m *Switchd) readChipIDAndVer() (uint16, uint16, error) {
	if err := m.rm.Write16(magicReg, magicValue); err != nil {
		return 0, 0, err
	}

	id, err := m.rm.Read16(chipIDReg)
	if err != nil {
		return 0, 0, err
	}

	ver, err := m.rm.Read16(chipVerReg)
	if err != nil {
		return 0, 0, err
	}

	if err := m.rm.Write16(magicReg, 0); err != nil {
		return 0, 0, err
	}

	return id, ver, nil
}

// Detect identifies the attached switch. It must succeed before Setup or any
// other chip operation is attempted.
func (m *Switchd) Detect(ctx context.Context) error {
	id, ver, err := m.readChipIDAndVer()
	if err != nil {
		return fmt.Errorf("read chip id and version: %w", err)
	}

	for i := range chipInfos {
		ci := &chipInfos[i]

		if ci.ChipID == id && ci.ChipVer == ver {
			m.chip = ci
			break
		}
	}

	if m.chip == nil {
		return fmt.Errorf("%w: id=0x%04x, ver=0x%04x", ErrUnknownChip, id, ver)
	}

	m.log.Infow("found switch", zap.String("name", m.chip.Name))

	return nil
}

// Reset performs a hardware reset of the chip, wiping all of its state.
func (m *Switchd) Reset(ctx context.Context) error {
	err := m.rm.WriteNoAck16(chipResetReg, field.Prep(chipResetHWMask, 1))
	if err != nil {
		return err
	}

	// The datasheet says the chip needs one second to reset. Stay off the
	// bus for a while before polling to avoid bus errors.
	time.Sleep(100 * time.Millisecond)

	return m.rm.Poll16(ctx, chipResetReg, chipResetHWMask, 0,
		20*time.Millisecond, time.Second)
}

// jamInit writes the vendor-defined initialization values, the chip-specific
// part first.
func (m *Switchd) jamInit() error {
	for _, jam := range m.chip.jamTable {
		if err := m.rm.Write16(jam.reg, jam.val); err != nil {
			return err
		}
	}

	for _, jam := range jamTableCommon {
		if err := m.rm.Write16(jam.reg, jam.val); err != nil {
			return err
		}
	}

	return nil
}
