package acl_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dsa-platform/rtl8365mb/acl"
	"github.com/dsa-platform/rtl8365mb/internal/hwsim"
	"github.com/dsa-platform/rtl8365mb/regmap"
	"github.com/dsa-platform/rtl8365mb/table"
)

func testManager(t *testing.T) (*acl.Manager, *table.Engine, *regmap.Regmap) {
	t.Helper()
	log := zap.NewNop().Sugar()
	rm := regmap.New(hwsim.New(), log)
	eng := table.NewEngine(rm, log)
	return acl.NewManager(rm, eng, log), eng, rm
}

func TestReset(t *testing.T) {
	m, _, rm := testManager(t)
	ctx := context.Background()

	// Dirty the state Reset is supposed to clean up.
	require.NoError(t, m.SetPortEnable(3, true))
	require.NoError(t, m.SetRule(ctx, 0, &acl.Rule{
		Enabled: true,
		Care:    acl.RulePart{PortMask: 0x07FF},
		Data:    acl.RulePart{PortMask: 0x07FF},
	}))

	require.NoError(t, m.Reset(ctx))

	v, err := rm.Read16(acl.EnableReg)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), v)

	v, err = rm.Read16(acl.UnmatchPermitReg)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x07FF), v)

	rule, err := m.GetRule(ctx, 0)
	require.NoError(t, err)
	assert.False(t, rule.Enabled)
}

func TestSetPortEnable(t *testing.T) {
	m, _, rm := testManager(t)

	require.NoError(t, m.SetPortEnable(0, true))
	require.NoError(t, m.SetPortEnable(10, true))

	v, err := rm.Read16(acl.EnableReg)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0401), v)

	require.NoError(t, m.SetPortEnable(0, false))
	v, err = rm.Read16(acl.EnableReg)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0400), v)
}

func TestRuleRoundTrip(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	// Data bits must be a subset of the care mask: bits outside it are
	// not preserved by the committed encoding, and do not matter.
	cases := []struct {
		name string
		idx  int
		rule acl.Rule
	}{
		{
			"match all ports",
			0,
			acl.Rule{
				Enabled: true,
				Care:    acl.RulePart{PortMask: 0x07FF},
				Data:    acl.RulePart{PortMask: 0x07FF},
			},
		},
		{
			"fields with template",
			5,
			acl.Rule{
				Enabled:  true,
				Template: 2,
				Care: acl.RulePart{
					PortMask: 0x00FF,
					Fields:   [8]uint16{0xFFFF, 0xFF00, 0, 0, 0, 0, 0, 0x000F},
				},
				Data: acl.RulePart{
					PortMask: 0x0055,
					Fields:   [8]uint16{0x8100, 0x6400, 0, 0, 0, 0, 0, 0x0006},
				},
			},
		},
		{
			"negated in high region",
			80,
			acl.Rule{
				Enabled: true,
				Negate:  true,
				Care:    acl.RulePart{PortMask: 0x0700},
				Data:    acl.RulePart{PortMask: 0x0400},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, m.SetRule(ctx, tc.idx, &tc.rule))
			got, err := m.GetRule(ctx, tc.idx)
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(tc.rule, got))
		})
	}
}

func TestDisableRule(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	rule := acl.Rule{
		Enabled: true,
		Care:    acl.RulePart{PortMask: 0x07FF},
		Data:    acl.RulePart{PortMask: 0x0001},
	}
	require.NoError(t, m.SetRule(ctx, 1, &rule))

	rule.Enabled = false
	require.NoError(t, m.SetRule(ctx, 1, &rule))

	got, err := m.GetRule(ctx, 1)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, uint16(0), got.Data.PortMask)

	// Reprogramming the slot leaves nothing of the old rule behind.
	fresh := acl.Rule{
		Enabled: true,
		Care:    acl.RulePart{PortMask: 0x0010},
		Data:    acl.RulePart{PortMask: 0x0010},
	}
	require.NoError(t, m.SetRule(ctx, 1, &fresh))
	got, err = m.GetRule(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(fresh, got))
}

func TestRuleBadIndex(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	err := m.SetRule(ctx, acl.NumConfigs, &acl.Rule{})
	assert.ErrorIs(t, err, acl.ErrBadIndex)
	_, err = m.GetRule(ctx, -1)
	assert.ErrorIs(t, err, acl.ErrBadIndex)
}

func TestSetAction(t *testing.T) {
	m, eng, _ := testManager(t)
	ctx := context.Background()

	action := &acl.Action{Mode: acl.ModeCVLAN}
	action.CVLAN.Subaction = acl.SubactionIngress
	action.CVLAN.MemberConfig = 1
	require.NoError(t, m.SetAction(ctx, 0, action))

	// Word 0 of the action entry carries the member config index and the
	// subaction.
	data := make([]uint16, 4)
	require.NoError(t, eng.Read(ctx, &table.ACLActionQuery{Addr: 0}, data))
	assert.Equal(t, uint16(0x0001), data[0])
}

func TestSetActionUnsupportedMode(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	for _, mode := range []acl.ActionMode{
		acl.ModeSVLAN, acl.ModeForward, acl.ModeCVLAN | acl.ModePriority,
	} {
		err := m.SetAction(ctx, 0, &acl.Action{Mode: mode})
		assert.ErrorIs(t, err, acl.ErrUnsupportedMode)
	}

	err := m.SetAction(ctx, acl.NumConfigs, &acl.Action{})
	assert.ErrorIs(t, err, acl.ErrBadIndex)
}

func TestDefaultConfigs(t *testing.T) {
	m, _, _ := testManager(t)

	require.NoError(t, m.SetTemplateConfig(acl.DefaultTemplateConfig()))
	require.NoError(t, m.SetFieldselConfig(acl.DefaultFieldselConfig()))
}
