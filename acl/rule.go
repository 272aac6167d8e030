package acl

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dsa-platform/rtl8365mb/internal/field"
	"github.com/dsa-platform/rtl8365mb/table"
)

// NumRuleFields is the number of payload fields a rule compares.
const NumRuleFields = 8

// ACL rule table entry layout, ten 16-bit words. Each rule occupies two
// entries of the ACL_RULE table, a "care" entry and a "data" entry, at
// distinct addresses derived from the rule index.
const (
	ruleD0TemplateMask = 0x0007
	ruleD0TagExistMask = 0x00F8
	ruleD0PortMaskMask = 0xFF00

	ruleD9ValidMask       = 0x0001
	ruleD9PortMaskExtMask = 0x000E

	ruleWords = 10
)

// ruleEntryAddr computes the ACL_RULE table address of the care (data=0) or
// data (data=1) half of a rule. The first 64 rules and the remaining 32 live
// in differently stride-packed regions.
func ruleEntryAddr(data uint16, idx int) uint16 {
	if idx < 64 {
		return data<<6 | uint16(idx)
	}
	return data<<5 | uint16(idx+64)
}

// RulePart holds the port mask and field data for either the care or the
// data half of a rule.
type RulePart struct {
	// PortMask is an 11-bit ingress port mask.
	PortMask uint16
	// Fields is the payload data, interpreted per the rule's template.
	Fields [NumRuleFields]uint16
}

// Rule matches ingress frames against up to eight payload fields plus the
// ingress port. For template index t, the rule matches a frame when all of
// the following hold:
//
//  1. the rule is enabled
//  2. BIT(port) & Care.PortMask & Data.PortMask == BIT(port)
//  3. frame[FIELD(t, i)] & Care.Fields[i] == Data.Fields[i] for i = 0..7
//
// where FIELD(t, i) is the frame offset named by the i'th field type of
// template t. With Negate set, conditions 2 and 3 are negated.
type Rule struct {
	Enabled bool
	Negate  bool
	// Template is the index of the template describing the rule fields.
	Template uint8
	Care     RulePart
	Data     RulePart
}

// SetRule programs the ACL rule at the given index. Disabling a rule erases
// its data entry, which carries the valid bit.
func (m *Manager) SetRule(ctx context.Context, idx int, rule *Rule) error {
	if idx < 0 || idx >= NumConfigs {
		return fmt.Errorf("%w: rule %d", ErrBadIndex, idx)
	}

	careAddr := ruleEntryAddr(0, idx)
	dataAddr := ruleEntryAddr(1, idx)

	var care, data [ruleWords]uint16

	// Erase the previous data entry first so the valid bit is never set
	// while the rule halves are inconsistent.
	q := table.ACLRuleQuery{Addr: dataAddr}
	if err := m.eng.Write(ctx, &q, data[:]); err != nil {
		return fmt.Errorf("erase acl rule %d: %w", idx, err)
	}

	if !rule.Enabled {
		return nil
	}

	if err := m.setRuleNegate(idx, rule.Negate); err != nil {
		return err
	}

	// The template field of the care entry carries the full field mask
	// regardless of the rule's care port mask: the template choice is
	// always significant.
	care[0] = field.Prep(ruleD0TemplateMask, ruleD0TemplateMask) |
		field.Prep(ruleD0PortMaskMask, rule.Care.PortMask)
	data[0] = field.Prep(ruleD0TemplateMask, uint16(rule.Template)) |
		field.Prep(ruleD0PortMaskMask, rule.Data.PortMask)

	for i := 0; i < NumRuleFields; i++ {
		care[i+1] = rule.Care.Fields[i]
		data[i+1] = rule.Data.Fields[i]
	}

	care[9] = field.Prep(ruleD9PortMaskExtMask, rule.Care.PortMask>>8)
	data[9] = field.Prep(ruleD9PortMaskExtMask, rule.Data.PortMask>>8)

	// The hardware stores the halves in a twiddled form: the committed
	// care word keeps only the cared-about bits we expect to be zero, the
	// committed data word the cared-about bits we expect to be one.
	for i := range care {
		c := care[i] &^ data[i]
		d := care[i] & data[i]
		care[i] = c
		data[i] = d
	}

	// The valid bit goes in untwiddled, after the transform.
	data[9] |= field.Prep(ruleD9ValidMask, 1)

	// Commit the care entry first: the data entry holds the valid bit, so
	// it must land last.
	q = table.ACLRuleQuery{Addr: careAddr}
	if err := m.eng.Write(ctx, &q, care[:]); err != nil {
		return fmt.Errorf("write acl rule %d care: %w", idx, err)
	}
	q = table.ACLRuleQuery{Addr: dataAddr}
	if err := m.eng.Write(ctx, &q, data[:]); err != nil {
		return fmt.Errorf("write acl rule %d data: %w", idx, err)
	}

	m.log.Debugw("set acl rule",
		zap.Int("index", idx),
		zap.Uint8("template", rule.Template),
		zap.Uint16("care_portmask", rule.Care.PortMask),
		zap.Uint16("data_portmask", rule.Data.PortMask))

	return nil
}

// GetRule reads back the ACL rule at the given index, undoing the committed
// encoding.
func (m *Manager) GetRule(ctx context.Context, idx int) (Rule, error) {
	var rule Rule

	if idx < 0 || idx >= NumConfigs {
		return rule, fmt.Errorf("%w: rule %d", ErrBadIndex, idx)
	}

	var care, data [ruleWords]uint16

	q := table.ACLRuleQuery{Addr: ruleEntryAddr(1, idx)}
	if err := m.eng.Read(ctx, &q, data[:]); err != nil {
		return rule, fmt.Errorf("read acl rule %d data: %w", idx, err)
	}
	q = table.ACLRuleQuery{Addr: ruleEntryAddr(0, idx)}
	if err := m.eng.Read(ctx, &q, care[:]); err != nil {
		return rule, fmt.Errorf("read acl rule %d care: %w", idx, err)
	}

	// Untwiddle: the original care mask is the union of the committed
	// halves, the original data is the committed data verbatim.
	for i := range care {
		care[i] ^= data[i]
	}

	rule.Template = uint8(field.Get(ruleD0TemplateMask, data[0]))
	rule.Care.PortMask = field.Get(ruleD0PortMaskMask, care[0]) |
		field.Get(ruleD9PortMaskExtMask, care[9])<<8
	rule.Data.PortMask = field.Get(ruleD0PortMaskMask, data[0]) |
		field.Get(ruleD9PortMaskExtMask, data[9])<<8
	rule.Enabled = field.Bit(ruleD9ValidMask, data[9])

	for i := 0; i < NumRuleFields; i++ {
		rule.Care.Fields[i] = care[i+1]
		rule.Data.Fields[i] = data[i+1]
	}

	negate, err := m.ruleNegate(idx)
	if err != nil {
		return rule, err
	}
	rule.Negate = negate

	return rule, nil
}
