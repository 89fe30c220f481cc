package main

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/mpbrowser/internal/bootstrap"
	"github.com/cory-johannsen/mpbrowser/internal/catalog"
	"github.com/cory-johannsen/mpbrowser/internal/discovery/beacon"
	"github.com/cory-johannsen/mpbrowser/internal/discovery/lan"
	"github.com/cory-johannsen/mpbrowser/internal/observability"
	"github.com/cory-johannsen/mpbrowser/internal/presence"
	"github.com/cory-johannsen/mpbrowser/internal/server"
)

func newBrowseCmd(a *app) *cobra.Command {
	var noCatalog bool
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Watch the LAN, friends and the catalog until interrupted",
		Long: `browse binds the discovery port, polls friend presence and loads the
save/replay catalog, printing each view whenever it changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBrowse(cmd, noCatalog)
		},
	}
	cmd.Flags().BoolVar(&noCatalog, "no-catalog", false, "skip loading the save/replay catalog")
	return cmd
}

func (a *app) runBrowse(cmd *cobra.Command, noCatalog bool) error {
	logger := a.logger
	lc := server.NewLifecycle(observability.Component(logger, "lifecycle"))

	listener, err := beacon.Listen(a.cfg.Discovery, observability.Component(logger, "beacon"))
	if err != nil {
		return err
	}
	logger.Info("listening for beacons", zap.Stringer("addr", listener.Addr()))

	friends, err := newFriendSource(a.cfg.Presence, logger)
	if err != nil {
		listener.Stop()
		return err
	}

	deps := bootstrap.Deps{
		Beacons:   listener,
		Registry:  lan.NewRegistry(a.cfg.Discovery.EvictionWindow),
		Friends:   friends,
		Connector: &udpConnector{logger: observability.Component(logger, "connector")},
	}
	if !noCatalog {
		cat := newCatalog(a.cfg.Catalog, logger)
		logger.Info("catalog directories",
			zap.String("saves", cat.SaveDir()),
			zap.String("replays", cat.ReplaysDir()),
		)
		deps.Catalog = cat
		if a.cfg.Catalog.Watch {
			w, err := cat.Watch()
			if err != nil {
				logger.Warn("catalog watch disabled", zap.Error(err))
			} else {
				deps.Watcher = w
			}
		}
	}

	coord, err := bootstrap.New(deps, observability.Component(logger, "coordinator"))
	if err != nil {
		listener.Stop()
		return err
	}
	if !noCatalog {
		if err := coord.ReloadCatalog(); err != nil {
			logger.Warn("initial catalog load failed", zap.Error(err))
		}
		printCatalog(cmd.OutOrStdout(), coord.CurrentCatalog())
	}

	runner := bootstrap.NewRunner(coord, clock.New(), a.cfg.Browser.TickInterval, observability.Component(logger, "runner"))
	view := &browseView{out: cmd.OutOrStdout()}
	runner.AfterTick = view.update

	lc.Add("discovery-loop", runner)
	lc.AddCloser("coordinator", coord)
	return lc.Run(cmd.Context())
}

// browseView prints a view only when it differs from what was last printed.
type browseView struct {
	out     io.Writer
	hosts   []lan.DiscoveredHost
	friends []presence.FriendPresence
	entries []catalog.Entry
	primed  bool
}

func (v *browseView) update(c *bootstrap.Coordinator, _ int64) {
	hosts := c.CurrentLanHosts()
	if !v.primed || !slices.EqualFunc(hosts, v.hosts, func(x, y lan.DiscoveredHost) bool { return x.Endpoint == y.Endpoint }) {
		printHosts(v.out, hosts)
		v.hosts = hosts
	}
	friends := c.CurrentFriends()
	if !v.primed || !slices.Equal(friends, v.friends) {
		if len(friends) > 0 || len(v.friends) > 0 {
			printFriends(v.out, friends)
		}
		v.friends = friends
	}
	entries := c.CurrentCatalog()
	if v.primed && !slices.Equal(entries, v.entries) {
		printCatalog(v.out, entries)
	}
	v.entries = entries
	v.primed = true
}

func printHosts(w io.Writer, hosts []lan.DiscoveredHost) {
	fmt.Fprintf(w, "LAN sessions (%d)\n", len(hosts))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, h := range hosts {
		fmt.Fprintf(tw, "  %s\t%d\n", h.Address(), h.Port())
	}
	tw.Flush()
}

func printFriends(w io.Writer, friends []presence.FriendPresence) {
	fmt.Fprintf(w, "Friends in game (%d)\n", len(friends))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, f := range friends {
		state := "in game"
		if f.Joinable() {
			state = fmt.Sprintf("joinable (host %d)", f.Host)
		}
		fmt.Fprintf(tw, "  %s\t%d\t%s\n", f.DisplayName, f.ID, state)
	}
	tw.Flush()
}

func printCatalog(w io.Writer, entries []catalog.Entry) {
	fmt.Fprintf(w, "Saves and replays (%d)\n", len(entries))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", e.Kind, e.DisplayName, e.SessionLabel, e.ModTime.Format("2006-01-02 15:04"))
	}
	tw.Flush()
}
