// Command issuemirror mirrors a GitHub repository's issues into a local
// tree of Markdown files, one directory per workflow category.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/issuemirror/internal/config"
)

var (
	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "issuemirror",
	Short: "Mirror GitHub issues into a Markdown tree",
	Long: "issuemirror fetches a repository's issues and keeps one Markdown file per issue\n" +
		"under active/, todo/, done/ or blocked/, rewriting only what changed since the last run.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("repo", "", "repository to mirror, owner/name (env MIRROR_REPO)")
	f.String("output-dir", "", "artifact tree (env MIRROR_OUTPUT_DIR)")
	f.String("state-dir", "", "ledger, cache and history directory (env MIRROR_STATE_DIR)")
	f.String("log-level", "", "log level (env LOG_LEVEL)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration, applies flag overrides and builds the logger.
func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	override := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	override("repo", &cfg.Repo)
	override("output-dir", &cfg.OutputDir)
	override("state-dir", &cfg.StateDir)
	override("log-level", &cfg.LogLevel)

	// Structured logs go to stderr; stdout carries command output.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.Environment == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = logger

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}
	return nil
}
