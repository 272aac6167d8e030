package switchd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []int{10}, cfg.CPU.Ports)
	assert.Equal(t, 1500, cfg.MTU)
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
mdio:
  interface: lan0
  phy_id: 29
cpu:
  ports: [8, 9]
mtu: 9000
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Logging.Level)
	assert.Equal(t, "lan0", cfg.MDIO.Interface)
	assert.Equal(t, uint16(29), cfg.MDIO.PhyID)
	assert.Equal(t, []int{8, 9}, cfg.CPU.Ports)
	assert.Equal(t, 9000, cfg.MTU)
}

func TestLoadConfigDefaults(t *testing.T) {
	// Omitted fields keep their defaults.
	cfg, err := LoadConfig(writeConfig(t, "mtu: 2000\n"))
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.MTU)
	assert.Equal(t, []int{10}, cfg.CPU.Ports)
	assert.Equal(t, "eth0", cfg.MDIO.Interface)
}

func TestLoadConfigInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"mtu out of range", "mtu: 1000000\n"},
		{"negative mtu", "mtu: -1\n"},
		{"cpu port out of range", "cpu:\n  ports: [11]\n"},
		{"no mdio bus", "mdio: null\n"},
		{"malformed", "mtu: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
