// Package acl manages the ACL engine of the switch.
//
// An ACL config is a grouping of one to five rules with an action. Rules
// perform a bitwise comparison with the ingress packet payload; if every
// rule of a config matches, the action is executed. The ACL_RULE and
// ACL_ACTION tables each hold 96 entries and are paired by index: rule i
// triggers action i. Multi-rule configs use "cascaded" actions, where an
// action mode bitfield of zero means "cascade to previous action".
//
// The documentation of this hardware feature is severely lacking. Only the
// CVLAN action mode has validated behavior, so requests for any other mode
// are rejected rather than programmed blindly.
package acl

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dsa-platform/rtl8365mb/internal/field"
	"github.com/dsa-platform/rtl8365mb/regmap"
	"github.com/dsa-platform/rtl8365mb/table"
)

// NumConfigs is the number of ACL rule/action index pairs.
const NumConfigs = 96

const (
	// EnableReg holds the per-port ACL enable mask.
	EnableReg  = 0x06D5
	enableMask = 0x07FF

	// UnmatchPermitReg selects, per port, whether frames unmatched by any
	// ACL filter are permitted.
	UnmatchPermitReg  = 0x06D6
	unmatchPermitMask = 0x07FF

	// ResetReg erases all ACL rules and actions when the reset bit is
	// written.
	ResetReg  = 0x06D9
	resetMask = 0x0001

	actionCtrlBase    = 0x0614
	actionCtrlExtBase = 0x06F0
	ctrlNegateMask    = 0x0040
	ctrlModeMask      = 0x003F

	templateBase = 0x0600
	templateMask = 0x003F

	fieldselBase       = 0x12E7
	fieldselTypeMask   = 0x0700
	fieldselOffsetMask = 0x00FF
)

// ACL action table entry layout, four 16-bit words. Only the CVLAN part of
// word 0 is used.
const (
	actD0CVLANMcIdxMask  = 0x003F
	actD0CVLANSubactMask = 0x00C0

	actionWords = 4
)

// ActionMode is a mask of operational modes of an ACL action. The values
// concur with the mode field of the action control registers. A zero mode
// cascades to the previous action.
type ActionMode uint8

const (
	ModeCVLAN    ActionMode = 0x01
	ModeSVLAN    ActionMode = 0x02
	ModePriority ActionMode = 0x04
	ModePolicing ActionMode = 0x08
	ModeForward  ActionMode = 0x10
	ModeIntGPIO  ActionMode = 0x20
	ModeAll      ActionMode = 0x3F
)

// ErrUnsupportedMode is returned when an action requests an operational mode
// this implementation cannot program.
var ErrUnsupportedMode = errors.New("unsupported acl action mode")

// ErrBadIndex is returned for rule or action indices outside 0~95.
var ErrBadIndex = errors.New("acl index out of range")

// CVLANSubaction selects when a CVLAN action reclassifies the packet.
type CVLANSubaction uint8

const (
	// SubactionIngress reclassifies on ingress, before learning.
	SubactionIngress CVLANSubaction = 0
	// SubactionEgress reclassifies on egress, before forwarding.
	SubactionEgress CVLANSubaction = 1
)

// Action describes what happens when the rule(s) of an ACL config match.
// Mode is a mask, so one action can in principle operate on several planes
// at once, but only the CVLAN mode is supported here.
type Action struct {
	Mode ActionMode

	// CVLAN parameters, used iff Mode has ModeCVLAN set.
	CVLAN struct {
		Subaction CVLANSubaction
		// MemberConfig is the index of the VLAN member config the
		// packet is reclassified to.
		MemberConfig uint16
	}
}

// action control registers hold the mode and negate bits for two indices
// each, eight bits per index
func actionCtrlReg(idx int) uint16 {
	if idx < 64 {
		return actionCtrlBase + uint16(idx)>>1
	}
	return actionCtrlExtBase + uint16(idx-64)>>1
}

func actionCtrlOffset(idx int) uint16 {
	return 8 * (uint16(idx) & 1)
}

// Manager owns the ACL configuration of a single chip.
type Manager struct {
	rm  *regmap.Regmap
	eng *table.Engine
	log *zap.SugaredLogger
}

func NewManager(rm *regmap.Regmap, eng *table.Engine, log *zap.SugaredLogger) *Manager {
	return &Manager{
		rm:  rm,
		eng: eng,
		log: log.With(zap.String("module", "acl")),
	}
}

// Reset brings the ACL engine to well-defined defaults: ACL disabled on all
// ports, unmatched frames permitted, every action mode set to ALL with
// negation cleared, and all rules and actions erased. Call it before
// (re)configuring ACL functionality.
func (m *Manager) Reset(ctx context.Context) error {
	if err := m.rm.Write16(EnableReg, 0); err != nil {
		return err
	}
	if err := m.rm.Write16(UnmatchPermitReg, unmatchPermitMask); err != nil {
		return err
	}

	for i := 0; i < NumConfigs; i++ {
		if err := m.setActionMode(i, ModeAll); err != nil {
			return err
		}
		if err := m.setRuleNegate(i, false); err != nil {
			return err
		}
	}

	// This erases all ACL actions and rules.
	if err := m.rm.Write16(ResetReg, resetMask); err != nil {
		return err
	}

	m.log.Debugw("acl engine reset")

	return nil
}

// SetPortEnable enables or disables ACL processing on a port.
func (m *Manager) SetPortEnable(port int, enable bool) error {
	var val uint16
	if enable {
		val = 1 << port
	}
	return m.rm.Update16(EnableReg, 1<<port, val)
}

func (m *Manager) setActionMode(idx int, mode ActionMode) error {
	off := actionCtrlOffset(idx)
	return m.rm.Update16(actionCtrlReg(idx), ctrlModeMask<<off,
		field.Prep(ctrlModeMask, uint16(mode))<<off)
}

func (m *Manager) setRuleNegate(idx int, negate bool) error {
	off := actionCtrlOffset(idx)
	return m.rm.Update16(actionCtrlReg(idx), ctrlNegateMask<<off,
		field.Prep(ctrlNegateMask, boolBit(negate))<<off)
}

func (m *Manager) ruleNegate(idx int) (bool, error) {
	v, err := m.rm.Read16(actionCtrlReg(idx))
	if err != nil {
		return false, err
	}
	return field.Bit(ctrlNegateMask, v>>actionCtrlOffset(idx)), nil
}

// SetAction programs the ACL action at the given index. Besides the CVLAN
// mode, only the cascade mode (zero) is accepted: the behavior of the other
// modes is unvalidated, and a mode this code cannot faithfully express must
// not end up in the hardware.
func (m *Manager) SetAction(ctx context.Context, idx int, action *Action) error {
	if idx < 0 || idx >= NumConfigs {
		return fmt.Errorf("%w: action %d", ErrBadIndex, idx)
	}
	if unsupported := action.Mode &^ ModeCVLAN; unsupported != 0 {
		return fmt.Errorf("%w: 0x%02x", ErrUnsupportedMode, uint8(unsupported))
	}

	if err := m.setActionMode(idx, action.Mode); err != nil {
		return err
	}

	var data [actionWords]uint16
	data[0] = field.Prep(actD0CVLANMcIdxMask, action.CVLAN.MemberConfig) |
		field.Prep(actD0CVLANSubactMask, uint16(action.CVLAN.Subaction))

	q := table.ACLActionQuery{Addr: uint16(idx)}
	if err := m.eng.Write(ctx, &q, data[:]); err != nil {
		return fmt.Errorf("write acl action %d: %w", idx, err)
	}

	m.log.Debugw("set acl action",
		zap.Int("index", idx),
		zap.Uint8("mode", uint8(action.Mode)),
		zap.Uint16("mcidx", action.CVLAN.MemberConfig))

	return nil
}

func boolBit(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}
