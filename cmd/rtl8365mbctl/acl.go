package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dsa-platform/rtl8365mb/switchd"
)

var aclArgs struct {
	Index int
	Port  int
}

var aclCmd = &cobra.Command{
	Use:   "acl",
	Short: "Inspect and control the ACL engine",
}

var aclShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show an ACL rule",
	Run: run(func(ctx context.Context, sw *switchd.Switchd) error {
		rule, err := sw.ACLs().GetRule(ctx, aclArgs.Index)
		if err != nil {
			return err
		}

		if !rule.Enabled {
			fmt.Printf("rule %d: disabled\n", aclArgs.Index)
			return nil
		}

		fmt.Printf("rule %d: template %d portmask 0x%03x/0x%03x",
			aclArgs.Index, rule.Template,
			rule.Data.PortMask, rule.Care.PortMask)
		if rule.Negate {
			fmt.Printf(" negated")
		}
		fmt.Println()

		for i := range rule.Data.Fields {
			if rule.Care.Fields[i] == 0 && rule.Data.Fields[i] == 0 {
				continue
			}
			fmt.Printf("  field %d: 0x%04x/0x%04x\n",
				i, rule.Data.Fields[i], rule.Care.Fields[i])
		}
		return nil
	}),
}

var aclEnableCmd = &cobra.Command{
	Use:   "enable {on|off}",
	Short: "Enable or disable ACL processing on a port",
	Args:  cobra.ExactArgs(1),
	Run: func(rawCmd *cobra.Command, args []string) {
		run(func(ctx context.Context, sw *switchd.Switchd) error {
			switch args[0] {
			case "on":
				return sw.ACLs().SetPortEnable(aclArgs.Port, true)
			case "off":
				return sw.ACLs().SetPortEnable(aclArgs.Port, false)
			}
			return fmt.Errorf("expected on or off, got %q", args[0])
		})(rawCmd, args)
	},
}

func init() {
	aclShowCmd.Flags().IntVar(&aclArgs.Index, "index", 0, "Rule index")
	aclShowCmd.MarkFlagRequired("index")

	aclEnableCmd.Flags().IntVar(&aclArgs.Port, "port", 0, "Port number")
	aclEnableCmd.MarkFlagRequired("port")

	aclCmd.AddCommand(aclShowCmd, aclEnableCmd)
}
