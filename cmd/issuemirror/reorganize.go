package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/issuemirror/internal/placer"
	"github.com/p-blackswan/issuemirror/internal/store"
)

var reorganizeCmd = &cobra.Command{
	Use:   "reorganize",
	Short: "Move every artifact into its current category directory",
	Long: "Scan the output tree regardless of the ledger and move artifacts whose issue\n" +
		"now belongs to another category. Content is not rewritten.",
	Args: cobra.NoArgs,
	RunE: runReorganize,
}

func init() {
	reorganizeCmd.Flags().Bool("dry-run", false, "list moves without performing them")
	reorganizeCmd.Flags().Bool("json", false, "print the report as JSON")
	rootCmd.AddCommand(reorganizeCmd)
}

func runReorganize(cmd *cobra.Command, _ []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	run := &store.Run{Collection: a.cfg.Collection(), Kind: store.KindReorganize, StartedAt: time.Now()}
	items, err := a.fetch(cmd.Context())
	if err != nil {
		if !dryRun {
			a.finish(run, err)
		}
		return err
	}
	run.Fetched = len(items)

	report, err := a.engine.Reorganize(items, dryRun)
	if report != nil {
		run.Moved = len(report.Moves)
		run.Failed = len(report.Failed)
		run.Unresolved = report.Unresolved()
		for _, mv := range report.Moves {
			run.Moves = append(run.Moves, store.RunMove{ItemID: mv.ID, From: mv.From, To: mv.To})
		}
	}
	if !dryRun {
		a.finish(run, err)
	}
	if err != nil {
		return err
	}

	if asJSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	printReorganize(cmd.OutOrStdout(), report)
	return nil
}

func printReorganize(w io.Writer, r *placer.ReorganizeReport) {
	verb := "moved"
	if r.DryRun {
		verb = "would move"
	}
	fmt.Fprintf(w, "scanned %d artifacts, %s %d\n", r.Scanned, verb, len(r.Moves))
	for _, mv := range r.Moves {
		fmt.Fprintf(w, "  %s\n", mv)
	}
	for _, p := range r.Orphans {
		fmt.Fprintf(w, "  orphan %s\n", p)
	}
	for _, p := range r.Unparseable {
		fmt.Fprintf(w, "  skipped %s\n", p)
	}
	for _, mv := range r.Duplicates {
		fmt.Fprintf(w, "  duplicate %s (destination taken)\n", mv)
	}
	for _, p := range r.Pruned {
		fmt.Fprintf(w, "  removed stale %s\n", p)
	}
	for _, p := range r.Failed {
		fmt.Fprintf(w, "  failed %s\n", p)
	}
}
