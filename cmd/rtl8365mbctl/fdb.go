package main

import (
	"context"
	"fmt"
	"net"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/dsa-platform/rtl8365mb/l2"
	"github.com/dsa-platform/rtl8365mb/switchd"
)

var fdbArgs struct {
	Port int
	VID  uint16
	MAC  string
	Glob string
}

var fdbCmd = &cobra.Command{
	Use:   "fdb",
	Short: "Inspect and program the L2 forwarding database",
}

var fdbShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Dump unicast forwarding database entries",
	Run: run(func(ctx context.Context, sw *switchd.Switchd) error {
		var filter glob.Glob
		if fdbArgs.Glob != "" {
			g, err := glob.Compile(fdbArgs.Glob)
			if err != nil {
				return fmt.Errorf("bad mac pattern: %w", err)
			}
			filter = g
		}

		return sw.FDB().WalkUC(ctx, func(addr uint16, uc l2.UC) bool {
			if fdbArgs.Port >= 0 && int(uc.Port) != fdbArgs.Port {
				return true
			}

			mac := net.HardwareAddr(uc.Key.MAC[:]).String()
			if filter != nil && !filter.Match(mac) {
				return true
			}

			kind := "dynamic"
			if uc.Static {
				kind = "static"
			}
			fmt.Printf("%s vid %d port %d %s (row %d)\n",
				mac, uc.Key.VID, uc.Port, kind, addr)
			return true
		})
	}),
}

var fdbAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Pin a static unicast entry",
	Run: run(func(ctx context.Context, sw *switchd.Switchd) error {
		mac, err := net.ParseMAC(fdbArgs.MAC)
		if err != nil {
			return err
		}

		uc := l2.UC{
			Key: l2.UCKey{
				VID: fdbArgs.VID,
				IVL: true,
			},
			Port:   uint8(fdbArgs.Port),
			Static: true,
		}
		copy(uc.Key.MAC[:], mac)

		return sw.FDB().AddUC(ctx, &uc)
	}),
}

var fdbDelCmd = &cobra.Command{
	Use:   "del",
	Short: "Remove a unicast entry",
	Run: run(func(ctx context.Context, sw *switchd.Switchd) error {
		mac, err := net.ParseMAC(fdbArgs.MAC)
		if err != nil {
			return err
		}

		key := l2.UCKey{
			VID: fdbArgs.VID,
			IVL: true,
		}
		copy(key.MAC[:], mac)

		return sw.FDB().DelUC(ctx, key)
	}),
}

var fdbFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Drop dynamic entries, of one port or the whole database",
	Run: run(func(ctx context.Context, sw *switchd.Switchd) error {
		if fdbArgs.Port < 0 {
			return sw.FDB().FlushAll(ctx)
		}
		return sw.FDB().Flush(ctx, fdbArgs.Port, fdbArgs.VID)
	}),
}

var mdbCmd = &cobra.Command{
	Use:   "mdb",
	Short: "Manage multicast group membership",
}

var mdbJoinCmd = &cobra.Command{
	Use:   "join",
	Short: "Add a port to a multicast group",
	Run: run(func(ctx context.Context, sw *switchd.Switchd) error {
		key, err := mdbKey()
		if err != nil {
			return err
		}
		return sw.FDB().JoinMulticast(ctx, key, fdbArgs.Port)
	}),
}

var mdbLeaveCmd = &cobra.Command{
	Use:   "leave",
	Short: "Remove a port from a multicast group",
	Run: run(func(ctx context.Context, sw *switchd.Switchd) error {
		key, err := mdbKey()
		if err != nil {
			return err
		}
		return sw.FDB().LeaveMulticast(ctx, key, fdbArgs.Port)
	}),
}

func mdbKey() (l2.MCKey, error) {
	mac, err := net.ParseMAC(fdbArgs.MAC)
	if err != nil {
		return l2.MCKey{}, err
	}

	key := l2.MCKey{
		VID: fdbArgs.VID,
		IVL: true,
	}
	copy(key.MAC[:], mac)

	return key, nil
}

func init() {
	fdbShowCmd.Flags().IntVar(&fdbArgs.Port, "port", -1, "Show only entries of this port")
	fdbShowCmd.Flags().StringVar(&fdbArgs.Glob, "mac", "", "Show only MACs matching this glob pattern")

	for _, c := range []*cobra.Command{fdbAddCmd, fdbDelCmd, mdbJoinCmd, mdbLeaveCmd} {
		c.Flags().StringVar(&fdbArgs.MAC, "mac", "", "MAC address")
		c.Flags().Uint16Var(&fdbArgs.VID, "vid", 0, "VLAN ID")
		c.MarkFlagRequired("mac")
	}
	fdbAddCmd.Flags().IntVar(&fdbArgs.Port, "port", 0, "Port number")
	fdbAddCmd.MarkFlagRequired("port")
	mdbJoinCmd.Flags().IntVar(&fdbArgs.Port, "port", 0, "Port number")
	mdbJoinCmd.MarkFlagRequired("port")
	mdbLeaveCmd.Flags().IntVar(&fdbArgs.Port, "port", 0, "Port number")
	mdbLeaveCmd.MarkFlagRequired("port")

	fdbFlushCmd.Flags().IntVar(&fdbArgs.Port, "port", -1, "Flush only this port")
	fdbFlushCmd.Flags().Uint16Var(&fdbArgs.VID, "vid", 0, "Flush only this VLAN on the port")

	fdbCmd.AddCommand(fdbShowCmd, fdbAddCmd, fdbDelCmd, fdbFlushCmd)
	mdbCmd.AddCommand(mdbJoinCmd, mdbLeaveCmd)
}
