package vlan

import (
	"errors"
	"fmt"

	"github.com/dsa-platform/rtl8365mb/internal/field"
)

// Limits shared by VLAN4k entries and member configs.
const (
	FIDMax      = 15
	PriorityMax = 7
	MeterMax    = 63

	// NumVlans is the size of the VLAN4k table.
	NumVlans = 4096
)

// VLAN4k (CVLAN) table entry layout, three 16-bit words.
const (
	v4kD0MbrMask         = 0x00FF
	v4kD0UntagMask       = 0xFF00
	v4kD1FIDMask         = 0x000F
	v4kD1VBPEnMask       = 0x0010
	v4kD1VBPriMask       = 0x00E0
	v4kD1EnVlanPolMask   = 0x0100
	v4kD1MeterIdxMask    = 0x3E00
	v4kD1IVLSVLMask      = 0x4000
	v4kD2MbrExtMask      = 0x0007
	v4kD2UntagExtMask    = 0x0038
	v4kD2MeterIdxExtMask = 0x0040

	vlan4kWords = 3
)

// ErrInvalidConfig is returned when a VLAN configuration field is out of
// range for the hardware.
var ErrInvalidConfig = errors.New("invalid vlan config")

// Vlan4k is an entry of the VLAN4k table. The table is exhaustive: every VID
// in 0~4095 has a row, and the switch consults it for the vast majority of
// forwarding decisions.
type Vlan4k struct {
	// VID is the VLAN ID, 0~4095.
	VID uint16
	// Member is the mask of ports belonging to this VLAN.
	Member uint16
	// Untag is the mask of ports which untag on egress.
	Untag uint16
	// FID is the filter ID, only used with shared VLAN learning.
	FID uint8
	// Priority is the priority classification, gated by PriorityEn.
	Priority uint8
	PriorityEn bool
	PolicingEn bool
	// IVLEn selects independent VLAN learning instead of the default
	// shared learning.
	IVLEn bool
	// MeterIdx is the metering index, 0~63.
	MeterIdx uint8
}

func (v *Vlan4k) validate() error {
	if v.VID >= NumVlans {
		return fmt.Errorf("%w: vid %d", ErrInvalidConfig, v.VID)
	}
	if v.FID > FIDMax || v.Priority > PriorityMax || v.MeterIdx > MeterMax {
		return fmt.Errorf("%w: fid %d priority %d meteridx %d",
			ErrInvalidConfig, v.FID, v.Priority, v.MeterIdx)
	}
	return nil
}

func (v *Vlan4k) pack() ([vlan4kWords]uint16, error) {
	var data [vlan4kWords]uint16

	if err := v.validate(); err != nil {
		return data, err
	}

	data[0] |= field.Prep(v4kD0MbrMask, v.Member)
	data[0] |= field.Prep(v4kD0UntagMask, v.Untag)
	data[1] |= field.Prep(v4kD1FIDMask, uint16(v.FID))
	data[1] |= field.Prep(v4kD1VBPEnMask, boolBit(v.PriorityEn))
	data[1] |= field.Prep(v4kD1VBPriMask, uint16(v.Priority))
	data[1] |= field.Prep(v4kD1EnVlanPolMask, boolBit(v.PolicingEn))
	data[1] |= field.Prep(v4kD1MeterIdxMask, uint16(v.MeterIdx))
	data[1] |= field.Prep(v4kD1IVLSVLMask, boolBit(v.IVLEn))
	data[2] |= field.Prep(v4kD2MbrExtMask, v.Member>>8)
	data[2] |= field.Prep(v4kD2UntagExtMask, v.Untag>>8)
	data[2] |= field.Prep(v4kD2MeterIdxExtMask, uint16(v.MeterIdx)>>5)

	return data, nil
}

func unpackVlan4k(vid uint16, data [vlan4kWords]uint16) Vlan4k {
	return Vlan4k{
		VID: vid,
		Member: field.Get(v4kD0MbrMask, data[0]) |
			field.Get(v4kD2MbrExtMask, data[2])<<8,
		Untag: field.Get(v4kD0UntagMask, data[0]) |
			field.Get(v4kD2UntagExtMask, data[2])<<8,
		FID:        uint8(field.Get(v4kD1FIDMask, data[1])),
		Priority:   uint8(field.Get(v4kD1VBPriMask, data[1])),
		PriorityEn: field.Bit(v4kD1VBPEnMask, data[1]),
		PolicingEn: field.Bit(v4kD1EnVlanPolMask, data[1]),
		IVLEn:      field.Bit(v4kD1IVLSVLMask, data[1]),
		MeterIdx: uint8(field.Get(v4kD1MeterIdxMask, data[1]) |
			field.Get(v4kD2MeterIdxExtMask, data[2])<<5),
	}
}

func boolBit(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}
