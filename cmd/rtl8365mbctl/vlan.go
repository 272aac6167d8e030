package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dsa-platform/rtl8365mb/switchd"
)

var vlanArgs struct {
	VID      uint16
	Port     int
	Untagged bool
	PVID     bool
}

var vlanCmd = &cobra.Command{
	Use:   "vlan",
	Short: "Inspect and program the VLAN tables",
}

var vlanShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a VLAN4k table entry",
	Run: run(func(ctx context.Context, sw *switchd.Switchd) error {
		v, err := sw.VLANs().GetVlan4k(ctx, vlanArgs.VID)
		if err != nil {
			return err
		}

		fmt.Printf("vlan %d: member 0x%03x untag 0x%03x fid %d ivl %v\n",
			v.VID, v.Member, v.Untag, v.FID, v.IVLEn)
		if v.PriorityEn {
			fmt.Printf("  priority %d\n", v.Priority)
		}
		if v.PolicingEn {
			fmt.Printf("  meter %d\n", v.MeterIdx)
		}
		if e := sw.VLANs().FindSynced(v.VID); e != nil {
			fmt.Printf("  synced member config %d\n", e.Index)
		}
		return nil
	}),
}

var vlanAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a port to a VLAN",
	Run: run(func(ctx context.Context, sw *switchd.Switchd) error {
		return sw.AddVlan(ctx, vlanArgs.Port, vlanArgs.VID,
			vlanArgs.Untagged, vlanArgs.PVID)
	}),
}

var vlanDelCmd = &cobra.Command{
	Use:   "del",
	Short: "Remove a port from a VLAN",
	Run: run(func(ctx context.Context, sw *switchd.Switchd) error {
		return sw.DelVlan(ctx, vlanArgs.Port, vlanArgs.VID)
	}),
}

var vlanFilteringCmd = &cobra.Command{
	Use:   "filtering {on|off}",
	Short: "Switch a port between VLAN-aware and VLAN-unaware operation",
	Args:  cobra.ExactArgs(1),
	Run: func(rawCmd *cobra.Command, args []string) {
		run(func(ctx context.Context, sw *switchd.Switchd) error {
			switch args[0] {
			case "on":
				return sw.SetVlanFiltering(ctx, vlanArgs.Port, true)
			case "off":
				return sw.SetVlanFiltering(ctx, vlanArgs.Port, false)
			}
			return fmt.Errorf("expected on or off, got %q", args[0])
		})(rawCmd, args)
	},
}

func init() {
	vlanShowCmd.Flags().Uint16Var(&vlanArgs.VID, "vid", 0, "VLAN ID")
	vlanShowCmd.MarkFlagRequired("vid")

	vlanAddCmd.Flags().Uint16Var(&vlanArgs.VID, "vid", 0, "VLAN ID")
	vlanAddCmd.Flags().IntVar(&vlanArgs.Port, "port", 0, "Port number")
	vlanAddCmd.Flags().BoolVar(&vlanArgs.Untagged, "untagged", false, "Egress frames of this VLAN untagged")
	vlanAddCmd.Flags().BoolVar(&vlanArgs.PVID, "pvid", false, "Use this VLAN as the port VID")
	vlanAddCmd.MarkFlagRequired("vid")
	vlanAddCmd.MarkFlagRequired("port")

	vlanDelCmd.Flags().Uint16Var(&vlanArgs.VID, "vid", 0, "VLAN ID")
	vlanDelCmd.Flags().IntVar(&vlanArgs.Port, "port", 0, "Port number")
	vlanDelCmd.MarkFlagRequired("vid")
	vlanDelCmd.MarkFlagRequired("port")

	vlanFilteringCmd.Flags().IntVar(&vlanArgs.Port, "port", 0, "Port number")
	vlanFilteringCmd.MarkFlagRequired("port")

	vlanCmd.AddCommand(vlanShowCmd, vlanAddCmd, vlanDelCmd, vlanFilteringCmd)
}
