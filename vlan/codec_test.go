package vlan

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVlan4kPackUnpack(t *testing.T) {
	cases := []struct {
		name string
		v    Vlan4k
	}{
		{"zero", Vlan4k{}},
		{"members on low ports", Vlan4k{VID: 1, Member: 0x001F, Untag: 0x000F}},
		{"members past port 7", Vlan4k{VID: 4095, Member: 0x07FF, Untag: 0x0700}},
		{"ivl with fid", Vlan4k{VID: 100, Member: 0x0003, FID: 15, IVLEn: true}},
		{"priority", Vlan4k{VID: 7, PriorityEn: true, Priority: 7}},
		{"metering past bit 4", Vlan4k{VID: 8, PolicingEn: true, MeterIdx: 63}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := tc.v.pack()
			require.NoError(t, err)
			got := unpackVlan4k(tc.v.VID, data)
			assert.Empty(t, cmp.Diff(tc.v, got))
		})
	}
}

func TestVlan4kFieldPlacement(t *testing.T) {
	v := Vlan4k{VID: 10, Member: 0x07FF, Untag: 0x0500, IVLEn: true, MeterIdx: 63}
	data, err := v.pack()
	require.NoError(t, err)

	assert.Equal(t, uint16(0x00FF), data[0], "members 0~7, untagged none below 8")
	assert.Equal(t, uint16(0x3E00)|uint16(0x4000), data[1], "meter low bits, ivl")
	assert.Equal(t, uint16(0x0007)|uint16(0x0028)|uint16(0x0040), data[2],
		"member ext, untag ext, meter ext")
}

func TestVlan4kValidate(t *testing.T) {
	cases := []struct {
		name string
		v    Vlan4k
	}{
		{"vid out of range", Vlan4k{VID: 4096}},
		{"fid out of range", Vlan4k{FID: 16}},
		{"priority out of range", Vlan4k{Priority: 8}},
		{"meteridx out of range", Vlan4k{MeterIdx: 64}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.v.pack()
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestMemberConfigPackUnpack(t *testing.T) {
	cases := []struct {
		name string
		c    MemberConfig
	}{
		{"zero", MemberConfig{}},
		{"full member mask", MemberConfig{Member: 0x07FF, EVID: 1}},
		{"enhanced vid", MemberConfig{EVID: 8191, FID: 3}},
		{"priority and metering", MemberConfig{
			PriorityEn: true, Priority: 5, PolicingEn: true, MeterIdx: 63,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := tc.c.pack()
			require.NoError(t, err)
			got := unpackMemberConfig(data)
			assert.Empty(t, cmp.Diff(tc.c, got))
		})
	}
}

func TestMemberConfigReg(t *testing.T) {
	assert.Equal(t, uint16(0x0728), MemberConfigReg(0))
	assert.Equal(t, uint16(0x072C), MemberConfigReg(1))
	assert.Equal(t, uint16(0x0728+31*4), MemberConfigReg(31))
}
