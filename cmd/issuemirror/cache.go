package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/issuemirror/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the response cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached response",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := openCache()
		if err != nil {
			return err
		}
		n := s.Len()
		s.Clear()
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", n)
		return nil
	},
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired entries and enforce the size cap",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := openCache()
		if err != nil {
			return err
		}
		// Opening already swept; this catches entries that expired since.
		removed := s.SweepExpired() + s.EnforceSizeCap(cfg.CacheMaxEntries)
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries, %d remain\n", removed, s.Len())
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd, cacheSweepCmd)
	rootCmd.AddCommand(cacheCmd)
}

// openCache opens the collection's cache without building the rest of the
// app; cache maintenance needs no credentials.
func openCache() (*cache.Store, error) {
	if _, _, err := cfg.RepoOwnerName(); err != nil {
		return nil, err
	}
	return cache.New(cfg.CacheDir(), cache.Options{
		MaxEntries: cfg.CacheMaxEntries,
		DefaultTTL: cfg.CacheTTL,
	}, logger), nil
}
