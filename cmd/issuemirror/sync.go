package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/issuemirror/internal/engine"
	"github.com/p-blackswan/issuemirror/internal/ledger"
	"github.com/p-blackswan/issuemirror/internal/placer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass",
	Long: "Fetch the repository's issues, write artifacts for new and changed issues,\n" +
		"move artifacts whose category changed and delete those whose issue is gone.",
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().Bool("dry-run", false, "report what would change without writing anything")
	syncCmd.Flags().Bool("json", false, "print the report as JSON")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if dryRun {
		items, err := a.fetch(cmd.Context())
		if err != nil {
			return err
		}
		cs := a.engine.Diff(items)
		if asJSON {
			return writeJSON(cmd.OutOrStdout(), cs.Counts())
		}
		printPlan(cmd.OutOrStdout(), cs)
		return nil
	}

	report, err := a.runPass(cmd.Context())
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

func printPlan(w io.Writer, cs ledger.ChangeSet) {
	c := cs.Counts()
	fmt.Fprintf(w, "would sync: %d new, %d updated, %d unchanged, %d deleted\n", c.New, c.Updated, c.Unchanged, c.Deleted)
	for _, it := range cs.New {
		fmt.Fprintf(w, "  + %s\n", placer.PathFor(it))
	}
	for _, it := range cs.Updated {
		fmt.Fprintf(w, "  ~ %s\n", placer.PathFor(it))
	}
	for _, rm := range cs.Deleted {
		fmt.Fprintf(w, "  - %s\n", rm.Entry.FilePath)
	}
}

func printReport(w io.Writer, r *engine.Report) {
	fmt.Fprintf(w, "%s: %d new, %d updated, %d unchanged, %d deleted, %d moved, %d restored, %d failed (%s)\n",
		r.Collection, r.New, r.Updated, r.Unchanged, r.Deleted, r.Moved, r.Restored, r.Failed, r.Duration.Round(time.Millisecond))
	for _, mv := range r.Moves {
		fmt.Fprintf(w, "  moved %s\n", mv)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
