package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/issuemirror/internal/classify"
	"github.com/p-blackswan/issuemirror/internal/engine"
	"github.com/p-blackswan/issuemirror/internal/render"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the ledger and check the artifact tree",
	Long: "Report per-category counts from the ledger and list tracked artifacts missing\n" +
		"from disk. With --verify, also check each artifact's front matter. Exits\n" +
		"non-zero when any problem is found. Makes no network calls.",
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().Bool("verify", false, "check artifact front matter against the ledger")
	statusCmd.Flags().Bool("json", false, "print the status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	verify, _ := cmd.Flags().GetBool("verify")
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var v engine.Verifier
	if verify {
		v = render.VerifyID
	}
	st := a.engine.Status(v)

	if asJSON {
		if err := writeJSON(cmd.OutOrStdout(), st); err != nil {
			return err
		}
	} else {
		printStatus(cmd.OutOrStdout(), st)
		if last, err := a.history.LastSuccess(cmd.Context(), a.cfg.Collection()); err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "last successful sync: %s (%s)\n",
				last.FinishedAt.Local().Format(time.RFC3339), humanize.Time(last.FinishedAt))
		}
		if size, err := a.history.SizeBytes(cmd.Context()); err == nil {
			fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render(fmt.Sprintf("history: %s, %s", a.history.Path(), humanize.IBytes(uint64(size)))))
		}
	}

	if !st.Healthy() {
		return fmt.Errorf("%d missing, %d invalid artifacts", len(st.Missing), len(st.Invalid))
	}
	return nil
}

func printStatus(w io.Writer, st *engine.Status) {
	fmt.Fprintf(w, "%s: %d tracked\n", boldStyle.Render(st.Collection), st.Entries)
	if st.LastSync != nil {
		fmt.Fprintf(w, "last sync: %s\n", st.LastSync.Local().Format(time.RFC3339))
	} else {
		fmt.Fprintln(w, mutedStyle.Render("never synced"))
	}
	for _, c := range classify.All() {
		fmt.Fprintf(w, "  %-8s %d\n", c, st.Categories[c])
	}
	for _, p := range st.Missing {
		fmt.Fprintf(w, "%s #%d %s\n", warnStyle.Render("missing"), p.ID, p.Path)
	}
	for _, p := range st.Invalid {
		fmt.Fprintf(w, "%s #%d %s: %s\n", failStyle.Render("invalid"), p.ID, p.Path, p.Reason)
	}
	if st.Healthy() {
		fmt.Fprintln(w, passStyle.Render("tree matches ledger"))
	}
}
