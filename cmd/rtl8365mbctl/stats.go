package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dsa-platform/rtl8365mb/internal/xcmd"
	"github.com/dsa-platform/rtl8365mb/switchd"
)

var statsArgs struct {
	Ports    []int
	Interval time.Duration
	All      bool
}

// Counters shown by default. The full set is printed with --all.
var statsDefault = []string{
	"ifInOctets",
	"ifInUcastPkts",
	"ifInMulticastPkts",
	"ifInBroadcastPkts",
	"ifOutOctets",
	"ifOutUcastPkts",
	"ifOutMulticastPkts",
	"ifOutBroadcastPkts",
	"ifOutDiscards",
	"dot3StatsFCSErrors",
	"etherStatsCollisions",
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Read the MIB counters",
	Long: "Read the MIB counters of the given ports. With --interval the " +
		"counters are polled repeatedly until interrupted.",
	Run: run(func(ctx context.Context, sw *switchd.Switchd) error {
		if statsArgs.Interval <= 0 {
			return statsDump(ctx, sw)
		}

		wg, ctx := errgroup.WithContext(ctx)
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		wg.Go(func() error {
			ticker := time.NewTicker(statsArgs.Interval)
			defer ticker.Stop()

			for {
				if err := statsDump(ctx, sw); err != nil {
					return err
				}
				select {
				case <-ticker.C:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		})
		wg.Go(func() error {
			return xcmd.WaitInterrupted(ctx)
		})

		err := wg.Wait()
		var interrupted xcmd.Interrupted
		if errors.As(err, &interrupted) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}),
}

// statsDump reads the counters of all selected ports concurrently and
// prints them in port order.
func statsDump(ctx context.Context, sw *switchd.Switchd) error {
	ports := statsArgs.Ports
	if len(ports) == 0 {
		for port := 0; port < switchd.MaxNumPorts; port++ {
			ports = append(ports, port)
		}
	}

	counters := make([]map[string]uint64, len(ports))

	wg, ctx := errgroup.WithContext(ctx)
	for i, port := range ports {
		wg.Go(func() error {
			c, err := sw.Stats().PortCounters(ctx, port)
			if err != nil {
				return fmt.Errorf("port %d: %w", port, err)
			}
			counters[i] = c
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return err
	}

	names := statsDefault
	if statsArgs.All {
		names = make([]string, 0, len(counters[0]))
		for name := range counters[0] {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	for i, port := range ports {
		fmt.Printf("port %d:\n", port)
		for _, name := range names {
			fmt.Printf("  %-34s %d\n", name, counters[i][name])
		}
	}

	return nil
}

func init() {
	statsCmd.Flags().IntSliceVar(&statsArgs.Ports, "ports", nil, "Ports to read, all by default")
	statsCmd.Flags().DurationVar(&statsArgs.Interval, "interval", 0, "Poll repeatedly with this interval")
	statsCmd.Flags().BoolVar(&statsArgs.All, "all", false, "Show every counter")
}
