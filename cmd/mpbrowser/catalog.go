package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cory-johannsen/mpbrowser/internal/catalog"
)

func newCatalogCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List or delete local saves and replays",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List saves and replays, replays newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newCatalog(a.cfg.Catalog, a.logger)
			entries, err := c.Rebuild()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saves: %s\nreplays: %s\n", c.SaveDir(), c.ReplaysDir())
			printCatalog(cmd.OutOrStdout(), entries)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete NAME|PATH",
		Short: "Delete a save or replay by display name or path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newCatalog(a.cfg.Catalog, a.logger)
			entries, err := c.Rebuild()
			if err != nil {
				return err
			}
			e, err := findEntry(entries, args[0])
			if err != nil {
				return err
			}
			if err := c.Delete(e); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s %s\n", e.Kind, e.Path)
			return nil
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}

// findEntry matches by exact path first, then by display name. A name shared
// by a save and a replay is ambiguous.
func findEntry(entries []catalog.Entry, key string) (catalog.Entry, error) {
	if abs, err := filepath.Abs(key); err == nil {
		for _, e := range entries {
			if e.Path == abs || e.Path == key {
				return e, nil
			}
		}
	}
	var matches []catalog.Entry
	for _, e := range entries {
		if e.DisplayName == key {
			matches = append(matches, e)
		}
	}
	switch len(matches) {
	case 0:
		return catalog.Entry{}, fmt.Errorf("no save or replay named %q", key)
	case 1:
		return matches[0], nil
	default:
		return catalog.Entry{}, fmt.Errorf("%q matches %d entries, pass the path instead", key, len(matches))
	}
}
