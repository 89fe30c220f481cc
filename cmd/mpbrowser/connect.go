package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/cory-johannsen/mpbrowser/internal/bootstrap"
	"github.com/cory-johannsen/mpbrowser/internal/observability"
	"github.com/cory-johannsen/mpbrowser/internal/presence"
)

func newConnectCmd(a *app) *cobra.Command {
	var friendHost bool
	cmd := &cobra.Command{
		Use:   "connect ADDRESS",
		Short: "Request a connection to ip[:port] or, with --host, a friend's host id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := a.parseTarget(args[0], friendHost)
			if err != nil {
				return err
			}
			return a.connect(cmd, target)
		},
	}
	cmd.Flags().BoolVar(&friendHost, "host", false, "treat ADDRESS as a presence host id")
	return cmd
}

func (a *app) parseTarget(arg string, friendHost bool) (bootstrap.Target, error) {
	if friendHost {
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing host id %q: %w", arg, err)
		}
		return bootstrap.PresenceTarget{Host: presence.HostID(id)}, nil
	}
	ap, err := bootstrap.ParseDirectAddress(arg, uint16(a.cfg.Direct.DefaultPort), a.cfg.Direct.Ambiguous)
	if err != nil {
		return nil, err
	}
	return bootstrap.DirectTarget{Addr: ap}, nil
}

func (a *app) connect(cmd *cobra.Command, target bootstrap.Target) (err error) {
	coord, err := bootstrap.New(bootstrap.Deps{
		Connector: &udpConnector{logger: observability.Component(a.logger, "connector")},
	}, observability.Component(a.logger, "coordinator"))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, coord.Close()) }()

	conn, err := coord.BeginConnection(target)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, conn.Handle.Close()) }()

	fmt.Fprintf(cmd.OutOrStdout(), "connection %s: %s %s\n", conn.ID, target.Transport(), target)
	return nil
}
