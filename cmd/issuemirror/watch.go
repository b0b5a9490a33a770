package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	ghclient "github.com/p-blackswan/issuemirror/internal/github"
	"github.com/p-blackswan/issuemirror/internal/health"
	"github.com/p-blackswan/issuemirror/internal/requestid"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Sync on an interval and on issue webhooks",
	Long: "Run a sync pass immediately and then every MIRROR_WATCH_INTERVAL. With\n" +
		"MIRROR_LISTEN_ADDR set, also serve /metrics, /health, /ready and /webhook;\n" +
		"issue webhooks for the mirrored repository trigger an early pass.",
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	interval := cfg.WatchInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	// A pass that misses three intervals in a row, or fails three times,
	// marks the mirror not ready.
	tracker := health.NewPassTracker(3*interval, 3)
	checker := health.NewChecker(logger)
	checker.Register("sync", tracker.Check)

	// Buffered so a webhook burst collapses into one pending pass.
	trigger := make(chan struct{}, 1)

	var wg sync.WaitGroup
	var server *http.Server
	if cfg.ListenAddr != "" {
		webhook := ghclient.NewWebhookHandler(cfg.GitHubWebhookSecret, cfg.Collection(), logger)
		webhook.OnChange(func(number int) {
			a.logger.Debug().Int("issue", number).Msg("issue changed upstream")
			select {
			case trigger <- struct{}{}:
			default:
			}
		})

		mux := http.NewServeMux()
		mux.HandleFunc("/health", health.LivenessHandler())
		mux.HandleFunc("/ready", checker.ReadinessHandler())
		mux.Handle("/metrics", a.metrics.Handler())
		mux.Handle("/webhook", webhook)

		server = &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      requestid.Middleware(mux),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			a.logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server starting")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error().Err(err).Msg("HTTP server error")
			}
		}()
	}

	pass := func(reason string, fresh bool) {
		if fresh {
			a.client.Invalidate(a.filter())
		}
		report, err := a.runPass(ctx)
		if errors.Is(err, context.Canceled) {
			return
		}
		tracker.Observe(err)
		if err != nil {
			a.logger.Error().Err(err).Str("trigger", reason).Msg("sync pass failed")
		} else {
			a.logger.Info().
				Str("trigger", reason).
				Int("new", report.New).
				Int("updated", report.Updated).
				Int("deleted", report.Deleted).
				Int("moved", report.Moved).
				Int("failed", report.Failed).
				Dur("duration", report.Duration).
				Msg("sync pass complete")
		}
		a.pruneHistory(ctx)
	}

	a.logger.Info().Dur("interval", interval).Msg("watching")
	pass("start", false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			pass("interval", false)
		case <-trigger:
			pass("webhook", true)
			ticker.Reset(interval)
		}
	}

	a.logger.Info().Msg("shutting down")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}
	wg.Wait()
	return nil
}

// pruneHistory drops run records older than the retention window.
func (a *app) pruneHistory(ctx context.Context) {
	if a.cfg.HistoryRetention <= 0 {
		return
	}
	n, err := a.history.RunRetention(ctx, a.cfg.HistoryRetention)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			a.logger.Warn().Err(err).Msg("history retention failed")
		}
		return
	}
	if n > 0 {
		a.logger.Debug().Int64("runs", n).Msg("old runs pruned")
	}
}
