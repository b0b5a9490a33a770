package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/issuemirror/internal/store"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget processed issues so the next sync rewrites everything",
	Long: "Delete the collection's ledger and response cache. Artifacts on disk are kept\n" +
		"and overwritten by the next sync.",
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().Bool("yes", false, "confirm the reset")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, _ []string) error {
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		return fmt.Errorf("reset discards the ledger of %s; rerun with --yes", cfg.Collection())
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	run := &store.Run{Collection: a.cfg.Collection(), Kind: store.KindReset, StartedAt: time.Now()}
	err = a.engine.Reset()
	a.finish(run, err)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ledger and cache cleared\n", a.cfg.Collection())
	return nil
}
