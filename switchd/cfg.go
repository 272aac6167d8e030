package switchd

import (
	"fmt"
	"os"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/dsa-platform/rtl8365mb/internal/logging"
	"github.com/dsa-platform/rtl8365mb/internal/mdio"
)

type Config config
type config struct {
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
	// MDIO configures the bus through which the switch is reached.
	MDIO *mdio.Config `yaml:"mdio"`
	// CPU configures the CPU port tagging of the switch.
	CPU CPUConfig `yaml:"cpu"`
	// MTU is the maximum transmission unit programmed during setup. The
	// maximum frame size is derived from it by adding the Ethernet
	// header, one VLAN tag and the frame checksum.
	MTU int `yaml:"mtu"`
}

// CPUConfig describes the CPU ports of the switch. Frames trapped to the CPU
// carry an inserted tag which the ports listed here are expected to parse.
type CPUConfig struct {
	// Ports lists the CPU ports.
	Ports []int `yaml:"ports"`
}

func DefaultConfig() *Config {
	return &Config{
		Logging: logging.Config{
			Level: zapcore.InfoLevel,
		},
		MDIO: mdio.DefaultConfig(),
		CPU: CPUConfig{
			Ports: []int{10},
		},
		MTU: 1500,
	}
}

// LoadConfig loads the configuration from the given path.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to deserialize config: %w", err)
	}

	return cfg, nil
}

// UnmarshalYAML serves as a proxy for validation.
//
// To avoid infinite recursion, the validating wrapper casts itself to the
// private config struct. This allows the decoder to operate on it using the
// default behavior for handling Go structs without an unmarshal method.
func (m *Config) UnmarshalYAML(value *yaml.Node) error {
	err := value.Decode((*config)(m))
	if err != nil {
		return err
	}
	return m.Validate()
}

// Validate validates the configuration.
func (m *Config) Validate() error {
	if m.MDIO == nil {
		return fmt.Errorf("mdio bus is not configured")
	}
	for _, port := range m.CPU.Ports {
		if port < 0 || port >= MaxNumPorts {
			return fmt.Errorf("cpu port %d out of range", port)
		}
	}
	if m.MTU <= 0 || m.MTU > maxFrameSize-frameOverhead {
		return fmt.Errorf("mtu %d out of range", m.MTU)
	}
	return nil
}
