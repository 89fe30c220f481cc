package main

import (
	"fmt"
	"net/netip"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cory-johannsen/mpbrowser/internal/discovery/beacon"
	"github.com/cory-johannsen/mpbrowser/internal/observability"
)

func newAnnounceCmd(a *app) *cobra.Command {
	var (
		target   string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "announce",
		Short: "Broadcast discovery beacons so browsers on the LAN list this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dst := netip.AddrPortFrom(netip.AddrFrom4([4]byte{255, 255, 255, 255}), uint16(a.cfg.Discovery.Port))
			if target != "" {
				ap, err := netip.ParseAddrPort(target)
				if err != nil {
					return fmt.Errorf("parsing --target: %w", err)
				}
				dst = ap
			}
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %s", interval)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return beacon.NewAnnouncer(dst, interval, observability.Component(a.logger, "announce")).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "destination addr:port (default broadcast on discovery.port)")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "time between beacons")
	return cmd
}
