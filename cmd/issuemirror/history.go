package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/issuemirror/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its moves",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of runs")
	historyCmd.Flags().Bool("all", false, "include every collection")
	historyCmd.PersistentFlags().Bool("json", false, "print as JSON")
	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

// openHistory opens the run history without building the rest of the app.
func openHistory() (*store.Store, error) {
	if cfg.StateDir == "" {
		return nil, fmt.Errorf("MIRROR_STATE_DIR must not be empty")
	}
	return store.New(cfg.HistoryPath(), logger)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	all, _ := cmd.Flags().GetBool("all")
	asJSON, _ := cmd.Flags().GetBool("json")

	collection := ""
	if !all {
		if _, _, err := cfg.RepoOwnerName(); err != nil {
			return fmt.Errorf("%w (or pass --all)", err)
		}
		collection = cfg.Collection()
	}

	s, err := openHistory()
	if err != nil {
		return err
	}
	defer s.Close()

	runs, err := s.RecentRuns(cmd.Context(), collection, limit)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), runs)
	}
	printRuns(cmd.OutOrStdout(), runs)
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	s, err := openHistory()
	if err != nil {
		return err
	}
	defer s.Close()

	run, err := s.GetRun(cmd.Context(), args[0])
	if errors.Is(err, store.ErrRunNotFound) {
		return fmt.Errorf("no run %q", args[0])
	}
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), run)
	}
	printRun(cmd.OutOrStdout(), run)
	return nil
}

func printRuns(w io.Writer, runs []*store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no runs recorded"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "ID\tCOLLECTION\tKIND\tSTATUS\tSTARTED\tDURATION\tNEW\tUPD\tDEL\tMOVED\tFAILED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			r.ID[:8], r.Collection, r.Kind, r.Status,
			r.StartedAt.Local().Format(time.DateTime), r.Duration().Round(time.Millisecond),
			r.New, r.Updated, r.Deleted, r.Moved, r.Failed)
	}
	tw.Flush()
}

func printRun(w io.Writer, r *store.Run) {
	fmt.Fprintf(w, "%s %s\n", boldStyle.Render(r.ID), statusStyle(r.Status).Render(r.Status))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "collection:\t%s\n", r.Collection)
	fmt.Fprintf(tw, "kind:\t%s\n", r.Kind)
	fmt.Fprintf(tw, "started:\t%s\n", r.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(tw, "duration:\t%s\n", r.Duration().Round(time.Millisecond))
	fmt.Fprintf(tw, "fetched:\t%d\n", r.Fetched)
	fmt.Fprintf(tw, "items:\t%d new, %d updated, %d unchanged, %d deleted\n", r.New, r.Updated, r.Unchanged, r.Deleted)
	fmt.Fprintf(tw, "tree:\t%d moved, %d restored, %d failed, %d unresolved\n", r.Moved, r.Restored, r.Failed, r.Unresolved)
	if r.Error != "" {
		fmt.Fprintf(tw, "error:\t%s\n", failStyle.Render(r.Error))
	}
	tw.Flush()
	for _, mv := range r.Moves {
		fmt.Fprintf(w, "  #%d %s -> %s\n", mv.ItemID, mv.From, mv.To)
	}
}
