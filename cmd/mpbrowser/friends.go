package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/cory-johannsen/mpbrowser/internal/presence"
)

func newFriendsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "friends",
		Short: "List friends running the game, joinable hosts first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := newProvider(a.cfg.Presence)
			if err != nil {
				return err
			}
			if p == nil {
				return errors.New("presence is disabled; set presence.enabled")
			}
			if !p.Available() {
				a.logger.Warn("presence provider unavailable")
			}
			printFriends(cmd.OutOrStdout(), presence.Query(p, presence.OptionsFromConfig(a.cfg.Presence)))
			return nil
		},
	}
}
