package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dsa-platform/rtl8365mb/internal/hwsim"
	"github.com/dsa-platform/rtl8365mb/internal/logging"
	"github.com/dsa-platform/rtl8365mb/internal/mdio"
	"github.com/dsa-platform/rtl8365mb/regmap"
	"github.com/dsa-platform/rtl8365mb/switchd"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string
	// Sim runs the command against a simulated chip instead of the MDIO
	// bus. Useful for trying commands out without hardware.
	Sim bool
}

var rootCmd = &cobra.Command{
	Use:   "rtl8365mbctl",
	Short: "Management tool for RTL8365MB family Ethernet switches",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&cmd.Sim, "sim", false, "Use a simulated chip instead of the MDIO bus")

	rootCmd.AddCommand(detectCmd, resetCmd, setupCmd, vlanCmd, fdbCmd, mdbCmd, aclCmd, statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*switchd.Config, error) {
	if cmd.ConfigPath == "" {
		return switchd.DefaultConfig(), nil
	}
	return switchd.LoadConfig(cmd.ConfigPath)
}

// withSwitch runs fn against a detected switch. Every subcommand goes
// through here.
func withSwitch(fn func(ctx context.Context, sw *switchd.Switchd) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Sync()

	var transport regmap.Transport
	if cmd.Sim {
		transport = hwsim.New()
	} else {
		bus, err := mdio.Open(cfg.MDIO)
		if err != nil {
			return fmt.Errorf("failed to open mdio bus: %w", err)
		}
		defer bus.Close()
		transport = bus
	}

	sw := switchd.New(transport, cfg, log)

	ctx := context.Background()
	if err := sw.Detect(ctx); err != nil {
		return err
	}

	return fn(ctx, sw)
}

// run wraps a subcommand body in the common error handling.
func run(fn func(ctx context.Context, sw *switchd.Switchd) error) func(*cobra.Command, []string) {
	return func(*cobra.Command, []string) {
		if err := withSwitch(fn); err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	}
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Identify the attached switch",
	Run: run(func(ctx context.Context, sw *switchd.Switchd) error {
		chip := sw.Chip()
		fmt.Printf("%s (id=0x%04x, ver=0x%04x)\n", chip.Name, chip.ChipID, chip.ChipVer)
		return nil
	}),
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Hardware-reset the switch, wiping all configuration",
	Run: run(func(ctx context.Context, sw *switchd.Switchd) error {
		return sw.Reset(ctx)
	}),
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Reset the switch and bring it to the initial configuration",
	Run: run(func(ctx context.Context, sw *switchd.Switchd) error {
		return sw.Setup(ctx)
	}),
}
