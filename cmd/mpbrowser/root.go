package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/mpbrowser/internal/config"
	"github.com/cory-johannsen/mpbrowser/internal/observability"
)

// app carries what every subcommand needs once PersistentPreRunE has run.
type app struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "mpbrowser",
		Short: "Multiplayer session browser",
		Long: `mpbrowser discovers joinable sessions on the local network and among
friends, lists local saves and replays, and hands connection requests to
the transport layer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to configuration file (defaults plus MPB_* environment when empty)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newBrowseCmd(a),
		newAnnounceCmd(a),
		newCatalogCmd(a),
		newFriendsCmd(a),
		newConnectCmd(a),
	)
	return root
}

func (a *app) init() error {
	start := time.Now()
	v := config.NewViper()
	if a.configPath != "" {
		v.SetConfigFile(a.configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
	}
	if a.logLevel != "" {
		v.Set("logging.level", a.logLevel)
	}
	cfg, err := config.LoadFromViper(v)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	logger.Debug("configuration loaded",
		zap.String("config", a.configPath),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
