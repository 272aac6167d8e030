package acl

import "github.com/dsa-platform/rtl8365mb/internal/field"

// FieldType is an ASIC-defined rule field type, selecting what part of the
// frame a template field compares against.
type FieldType uint8

const (
	FieldUnused    FieldType = 0x00
	FieldDMAC0     FieldType = 0x01
	FieldDMAC1     FieldType = 0x02
	FieldDMAC2     FieldType = 0x03
	FieldSMAC0     FieldType = 0x04
	FieldSMAC1     FieldType = 0x05
	FieldSMAC2     FieldType = 0x06
	FieldEtherType FieldType = 0x07
	FieldSTag      FieldType = 0x08
	FieldCTag      FieldType = 0x09
	FieldIPv4SIP0  FieldType = 0x10
	FieldIPv4SIP1  FieldType = 0x11
	FieldIPv4DIP0  FieldType = 0x12
	FieldIPv4DIP1  FieldType = 0x13
	FieldIPv6SIP0  FieldType = 0x20
	FieldIPv6SIP1  FieldType = 0x21
	FieldIPv6DIP0  FieldType = 0x28
	FieldIPv6DIP1  FieldType = 0x29
	FieldL4DPort   FieldType = 0x2A
	FieldL4SPort   FieldType = 0x2B
	FieldVIDRange  FieldType = 0x30
	FieldIPRange   FieldType = 0x31
	FieldPortRange FieldType = 0x32
	FieldValid     FieldType = 0x33
	FieldFS00      FieldType = 0x40
	FieldFS01      FieldType = 0x41
	FieldFS02      FieldType = 0x42
	FieldFS03      FieldType = 0x43
	FieldFS04      FieldType = 0x44
	FieldFS05      FieldType = 0x45
	FieldFS06      FieldType = 0x46
	FieldFS07      FieldType = 0x47
	FieldFS08      FieldType = 0x48
	FieldFS09      FieldType = 0x49
	FieldFS10      FieldType = 0x4A
	FieldFS11      FieldType = 0x4B
	FieldFS12      FieldType = 0x4C
	FieldFS13      FieldType = 0x4D
	FieldFS14      FieldType = 0x4E
	FieldFS15      FieldType = 0x4F
)

const (
	// NumTemplates is the number of ACL templates.
	NumTemplates = 5
)

// TemplateConfig assigns a field type to each of the eight fields of the
// five templates. Rules refer to a template index, so it should be
// programmed before any rules.
type TemplateConfig struct {
	Templates [NumTemplates][NumRuleFields]FieldType
}

// DefaultTemplateConfig is the template layout recommended by the vendor.
func DefaultTemplateConfig() *TemplateConfig {
	return &TemplateConfig{Templates: [NumTemplates][NumRuleFields]FieldType{
		{FieldDMAC0, FieldDMAC1, FieldDMAC2, FieldSMAC0, FieldSMAC1,
			FieldSMAC2, FieldEtherType, FieldFS07},
		{FieldIPv4SIP0, FieldIPv4SIP1, FieldIPv4DIP0, FieldIPv4DIP1,
			FieldL4SPort, FieldL4DPort, FieldFS02, FieldFS07},
		{FieldIPv6SIP0, FieldIPv6SIP1, FieldL4SPort, FieldL4DPort,
			FieldFS05, FieldFS06, FieldFS00, FieldFS01},
		{FieldIPv6DIP0, FieldIPv6DIP1, FieldL4SPort, FieldL4DPort,
			FieldFS00, FieldFS03, FieldFS04, FieldFS07},
		{FieldFS01, FieldIPRange, FieldFS02, FieldCTag, FieldSTag,
			FieldFS04, FieldFS03, FieldFS07},
	}}
}

// SetTemplateConfig programs the five ACL templates. Two 6-bit field types
// go into each template register.
func (m *Manager) SetTemplateConfig(cfg *TemplateConfig) error {
	for t := 0; t < NumTemplates; t++ {
		for f := 0; f < NumRuleFields; f += 2 {
			reg := uint16(templateBase + t*4 + f>>1)
			val := uint16(cfg.Templates[t][f]) |
				uint16(cfg.Templates[t][f+1])<<8
			if err := m.rm.Write16(reg, val); err != nil {
				return err
			}
		}
	}
	return nil
}

// FieldselType determines the initial packet offset of a field selector
// based on packet type.
type FieldselType uint8

const (
	FieldselDefault   FieldselType = 0x0
	FieldselRaw       FieldselType = 0x1
	FieldselLLC       FieldselType = 0x2
	FieldselIPv4      FieldselType = 0x3
	FieldselARP       FieldselType = 0x4
	FieldselIPv6      FieldselType = 0x5
	FieldselIPPayload FieldselType = 0x6
	FieldselL4Payload FieldselType = 0x7
)

// Fieldsel configures one field selector: a 16-bit window into the frame at
// the given octet offset from the start selected by Type.
type Fieldsel struct {
	Type   FieldselType
	Offset uint8
}

// NumFieldsels is the number of field selectors.
const NumFieldsels = 16

// FieldselConfig holds all sixteen field selectors.
type FieldselConfig struct {
	Fieldsels [NumFieldsels]Fieldsel
}

// DefaultFieldselConfig matches the field selector usage of the default
// templates.
func DefaultFieldselConfig() *FieldselConfig {
	return &FieldselConfig{Fieldsels: [NumFieldsels]Fieldsel{
		0: {Type: FieldselIPv6, Offset: 0},
		1: {Type: FieldselIPv6, Offset: 6},
		2: {Type: FieldselIPPayload, Offset: 12},
		3: {Type: FieldselIPv4, Offset: 12},
		4: {Type: FieldselIPPayload, Offset: 0},
		5: {Type: FieldselIPv4, Offset: 0},
		6: {Type: FieldselIPv4, Offset: 8},
	}}
}

// SetFieldselConfig programs the field selectors.
func (m *Manager) SetFieldselConfig(cfg *FieldselConfig) error {
	for i, fs := range cfg.Fieldsels {
		val := field.Prep(fieldselTypeMask, uint16(fs.Type)) |
			field.Prep(fieldselOffsetMask, uint16(fs.Offset))
		if err := m.rm.Write16(fieldselBase+uint16(i), val); err != nil {
			return err
		}
	}
	return nil
}
