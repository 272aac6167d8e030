package switchd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dsa-platform/rtl8365mb/acl"
	"github.com/dsa-platform/rtl8365mb/internal/hwsim"
	"github.com/dsa-platform/rtl8365mb/l2"
	"github.com/dsa-platform/rtl8365mb/vlan"
)

func testSwitch(t *testing.T) (*Switchd, *hwsim.Chip) {
	t.Helper()
	chip := hwsim.New()
	return New(chip, DefaultConfig(), zap.NewNop().Sugar()), chip
}

func readReg(t *testing.T, m *Switchd, addr uint16) uint16 {
	t.Helper()
	v, err := m.Regmap().Read16(addr)
	require.NoError(t, err)
	return v
}

func TestDetect(t *testing.T) {
	cases := []struct {
		name    string
		chipID  uint16
		chipVer uint16
		want    string
		wantErr error
	}{
		{"rtl8365mb-vc", 0x6367, 0x0040, "RTL8365MB-VC", nil},
		{"rtl8367s", 0x6367, 0x00A0, "RTL8367S", nil},
		{"rtl8367rb-vb", 0x6367, 0x0020, "RTL8367RB-VB", nil},
		{"unknown version", 0x6367, 0x1000, "", ErrUnknownChip},
		{"unknown id", 0x6368, 0x0040, "", ErrUnknownChip},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, chip := testSwitch(t)
			chip.ChipID = tc.chipID
			chip.ChipVer = tc.chipVer

			err := m.Detect(context.Background())
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, m.Chip())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, m.Chip().Name)
		})
	}
}

func TestDetectLeavesMagicCleared(t *testing.T) {
	m, _ := testSwitch(t)
	require.NoError(t, m.Detect(context.Background()))

	// Identification only answers during the handshake.
	assert.Zero(t, readReg(t, m, chipIDReg))
}

func TestSetupRequiresDetect(t *testing.T) {
	m, _ := testSwitch(t)
	assert.Error(t, m.Setup(context.Background()))
}

func TestSetup(t *testing.T) {
	m, _ := testSwitch(t)
	ctx := context.Background()

	require.NoError(t, m.Detect(ctx))
	require.NoError(t, m.Setup(ctx))

	// CPU tagging: port 10 is the only CPU port and the trap port.
	assert.Equal(t, uint16(0x0400), readReg(t, m, cpuPortMaskReg))
	wantCtrl := uint16(0x0001) | // enabled
		uint16(0x0080) | // 64 byte minimum rx length
		uint16(0x0010) | // trap port low bits
		uint16(0x0400) // trap port bit 3
	assert.Equal(t, wantCtrl, readReg(t, m, cpuCtrlReg))

	// 1500 byte MTU plus tagged Ethernet overhead.
	assert.Equal(t, uint16(1522), readReg(t, m, maxLenReg))

	for port := 0; port < MaxNumPorts; port++ {
		assert.Zero(t, readReg(t, m, learnLimitBase+uint16(port)),
			"learning disabled on port %d", port)
		assert.Equal(t, uint16(0x0400), readReg(t, m, isolationBase+uint16(port)),
			"port %d isolated to the cpu port", port)
	}
	assert.Equal(t, uint16(PortMask), readReg(t, m, ucastFloodReg))
	assert.Equal(t, uint16(PortMask), readReg(t, m, mcastFloodReg))
	assert.Equal(t, uint16(PortMask), readReg(t, m, bcastFloodReg))

	// VLAN-unaware operation: reserved member configs in slots 0 and 1,
	// every port in VLAN 0 with independent learning, VLAN enabled.
	null, err := m.VLANs().MemberConfigAt(0)
	require.NoError(t, err)
	assert.Zero(t, null.Member)

	unaware, err := m.VLANs().MemberConfigAt(1)
	require.NoError(t, err)
	assert.Equal(t, uint16(PortMask), unaware.Member)

	vlan0, err := m.VLANs().GetVlan4k(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(PortMask), vlan0.Member)
	assert.True(t, vlan0.IVLEn)

	assert.Equal(t, uint16(vlanCtrlEnMask), readReg(t, m, vlanCtrlReg)&vlanCtrlEnMask)

	// The unaware reclassification rule is active on every port.
	rule, err := m.ACLs().GetRule(ctx, 0)
	require.NoError(t, err)
	assert.True(t, rule.Enabled)
	assert.Equal(t, uint16(PortMask), rule.Care.PortMask)
	assert.Equal(t, uint16(PortMask), rule.Data.PortMask)
}

func TestSetMTU(t *testing.T) {
	m, _ := testSwitch(t)

	require.NoError(t, m.SetMTU(9000))
	assert.Equal(t, uint16(9022), readReg(t, m, maxLenReg))

	require.NoError(t, m.SetMTU(MaxMTU()))
	assert.Error(t, m.SetMTU(MaxMTU()+1))
}

func TestSetLearning(t *testing.T) {
	m, _ := testSwitch(t)

	require.NoError(t, m.SetLearning(4, true))
	assert.Equal(t, uint16(2112), readReg(t, m, learnLimitBase+4))

	require.NoError(t, m.SetLearning(4, false))
	assert.Zero(t, readReg(t, m, learnLimitBase+4))

	assert.Error(t, m.SetLearning(11, true))
}

func TestIsolation(t *testing.T) {
	m, _ := testSwitch(t)

	require.NoError(t, m.SetIsolation(2, 0x0400))
	assert.Equal(t, uint16(0x0400), readReg(t, m, isolationBase+2))

	require.NoError(t, m.AddIsolation(2, 0x0009))
	assert.Equal(t, uint16(0x0409), readReg(t, m, isolationBase+2))

	require.NoError(t, m.RemoveIsolation(2, 0x0401))
	assert.Equal(t, uint16(0x0008), readReg(t, m, isolationBase+2))
}

func TestSetEFID(t *testing.T) {
	m, _ := testSwitch(t)

	// Four ports per register, three bits each.
	require.NoError(t, m.SetEFID(5, 7))
	assert.Equal(t, uint16(0x0070), readReg(t, m, efidBase+1))

	require.NoError(t, m.SetEFID(4, 3))
	assert.Equal(t, uint16(0x0073), readReg(t, m, efidBase+1))

	require.NoError(t, m.SetEFID(5, 0))
	assert.Equal(t, uint16(0x0003), readReg(t, m, efidBase+1))
}

func TestSetSTPState(t *testing.T) {
	m, _ := testSwitch(t)

	// Eight ports per register, two bits each.
	require.NoError(t, m.SetSTPState(1, STPForwarding))
	assert.Equal(t, uint16(0x000C), readReg(t, m, mstiCtrlBase))

	require.NoError(t, m.SetSTPState(9, STPLearning))
	assert.Equal(t, uint16(0x0008), readReg(t, m, mstiCtrlBase+1))

	require.NoError(t, m.SetSTPState(1, STPDisabled))
	assert.Zero(t, readReg(t, m, mstiCtrlBase))
}

func TestFlood(t *testing.T) {
	m, _ := testSwitch(t)

	require.NoError(t, m.SetUcastFlood(3, true))
	require.NoError(t, m.SetBcastFlood(3, true))
	assert.Equal(t, uint16(0x0008), readReg(t, m, ucastFloodReg))
	assert.Equal(t, uint16(0x0008), readReg(t, m, bcastFloodReg))
	assert.Zero(t, readReg(t, m, mcastFloodReg))

	require.NoError(t, m.SetUcastFlood(3, false))
	assert.Zero(t, readReg(t, m, ucastFloodReg))
}

func setupSwitch(t *testing.T) *Switchd {
	t.Helper()
	m, _ := testSwitch(t)
	ctx := context.Background()
	require.NoError(t, m.Detect(ctx))
	require.NoError(t, m.Setup(ctx))
	return m
}

func TestAddDelVlan(t *testing.T) {
	m := setupSwitch(t)
	ctx := context.Background()

	require.NoError(t, m.AddVlan(ctx, 2, 100, true, true))
	require.NoError(t, m.AddVlan(ctx, 3, 100, false, false))

	v, err := m.VLANs().GetVlan4k(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x000C), v.Member)
	assert.Equal(t, uint16(0x0004), v.Untag)
	assert.True(t, v.IVLEn)

	assert.Equal(t, uint16(100), m.PVID(2))
	assert.Zero(t, m.PVID(3))

	// The PVID points at the synced member config of VID 100, which must
	// track the VLAN4k member mask. Slots 0 and 1 are reserved, so the
	// config landed in slot 2.
	e := m.VLANs().FindSynced(100)
	require.NotNil(t, e)
	assert.Equal(t, 2, e.Index)
	mc, err := m.VLANs().MemberConfigAt(e.Index)
	require.NoError(t, err)
	assert.Equal(t, uint16(100), mc.EVID)
	assert.Equal(t, uint16(0x000C), mc.Member)

	// Ports 2 and 3 share the second PVID register; port 2 takes the low
	// five bits.
	assert.Equal(t, uint16(e.Index), readReg(t, m, pvidCtrlBase+1)&0x1F)

	require.NoError(t, m.DelVlan(ctx, 2, 100))

	v, err = m.VLANs().GetVlan4k(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0008), v.Member)
	assert.Zero(t, v.Untag)

	// Dropping the PVID releases the synced config and falls back to the
	// null member config in slot 0.
	assert.Zero(t, m.PVID(2))
	assert.Nil(t, m.VLANs().FindSynced(100))
	assert.Zero(t, readReg(t, m, pvidCtrlBase+1)&0x1F)
}

func TestSetPVID(t *testing.T) {
	m := setupSwitch(t)
	ctx := context.Background()

	require.NoError(t, m.SetPVID(ctx, 4, 10))
	assert.Equal(t, uint16(10), m.PVID(4))

	// Moving the PVID releases the old synced config.
	require.NoError(t, m.SetPVID(ctx, 4, 20))
	assert.Equal(t, uint16(20), m.PVID(4))
	assert.Nil(t, m.VLANs().FindSynced(10))
	assert.NotNil(t, m.VLANs().FindSynced(20))

	require.NoError(t, m.SetPVID(ctx, 4, 0))
	assert.Zero(t, m.PVID(4))
	assert.Nil(t, m.VLANs().FindSynced(20))

	// Two ports share one synced config.
	require.NoError(t, m.SetPVID(ctx, 4, 30))
	require.NoError(t, m.SetPVID(ctx, 5, 30))
	e := m.VLANs().FindSynced(30)
	require.NotNil(t, e)
	require.NoError(t, m.SetPVID(ctx, 4, 0))
	assert.NotNil(t, m.VLANs().FindSynced(30))
	require.NoError(t, m.SetPVID(ctx, 5, 0))
	assert.Nil(t, m.VLANs().FindSynced(30))

	assert.Error(t, m.SetPVID(ctx, 11, 10))
}

func TestSetVlanFiltering(t *testing.T) {
	m := setupSwitch(t)
	ctx := context.Background()

	// Setup leaves every port VLAN-unaware with the reclassification
	// rule enabled.
	assert.Equal(t, uint16(PortMask), readReg(t, m, acl.EnableReg))

	require.NoError(t, m.SetVlanFiltering(ctx, 1, true))

	assert.Equal(t, uint16(PortMask&^0x0002), readReg(t, m, acl.EnableReg))
	assert.Equal(t, uint16(0x0002), readReg(t, m, vlanIngressReg))
	for other := 0; other < MaxNumPorts; other++ {
		assert.Zero(t, readReg(t, m, transparentBase+uint16(other))&0x0002,
			"port 1 transparent towards port %d", other)
	}

	require.NoError(t, m.SetVlanFiltering(ctx, 1, false))

	assert.Equal(t, uint16(PortMask), readReg(t, m, acl.EnableReg))
	assert.Zero(t, readReg(t, m, vlanIngressReg))
	for other := 0; other < MaxNumPorts; other++ {
		assert.Equal(t, uint16(0x0002),
			readReg(t, m, transparentBase+uint16(other))&0x0002)
	}
}

func TestWalkFdb(t *testing.T) {
	m := setupSwitch(t)
	ctx := context.Background()

	for i, port := range []uint8{2, 2, 5} {
		uc := &l2.UC{
			Key:    l2.UCKey{MAC: [6]byte{0, 0x11, 0x22, 0x33, 0x44, byte(i)}, VID: 10, IVL: true},
			Port:   port,
			Static: true,
		}
		require.NoError(t, m.FDB().AddUC(ctx, uc))
	}
	mcKey := l2.MCKey{MAC: [6]byte{0x01, 0, 0x5E, 0, 0, 1}, VID: 10, IVL: true}
	require.NoError(t, m.FDB().JoinMulticast(ctx, mcKey, 2))

	count := 0
	require.NoError(t, m.WalkFdb(ctx, 2, func(_ [6]byte, vid uint16, static bool) bool {
		count++
		assert.Equal(t, uint16(10), vid)
		assert.True(t, static)
		return true
	}))
	assert.Equal(t, 2, count)

	groups := 0
	require.NoError(t, m.WalkMdb(ctx, 2, func(mac [6]byte, vid uint16) bool {
		groups++
		assert.Equal(t, mcKey.MAC, mac)
		return true
	}))
	assert.Equal(t, 1, groups)

	// Ports outside every group see an empty dump.
	require.NoError(t, m.WalkMdb(ctx, 3, func([6]byte, uint16) bool {
		t.Fatal("port 3 is in no group")
		return false
	}))
}

func TestVlanMemberConfigExhaustion(t *testing.T) {
	m := setupSwitch(t)
	ctx := context.Background()

	// Slots 0 and 1 are reserved, leaving 30 for synced configs.
	for i := 0; i < vlan.NumMemberConfigs-2; i++ {
		_, err := m.VLANs().GetSynced(uint16(100 + i))
		require.NoError(t, err)
	}

	err := m.SetPVID(ctx, 2, 999)
	assert.ErrorIs(t, err, vlan.ErrExhausted)
}
