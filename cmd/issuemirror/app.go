package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/issuemirror/internal/config"
	"github.com/p-blackswan/issuemirror/internal/engine"
	ghclient "github.com/p-blackswan/issuemirror/internal/github"
	"github.com/p-blackswan/issuemirror/internal/item"
	"github.com/p-blackswan/issuemirror/internal/metrics"
	"github.com/p-blackswan/issuemirror/internal/render"
	"github.com/p-blackswan/issuemirror/internal/store"
)

// app wires one collection's engine to its fetch client and run history.
type app struct {
	cfg      *config.Config
	engine   *engine.Engine
	client   *ghclient.Client
	history  *store.Store
	metrics  *metrics.Metrics
	renderer engine.Renderer
	logger   zerolog.Logger
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	owner, name, err := cfg.RepoOwnerName()
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	eng, err := engine.New(engine.Options{
		Collection:      cfg.Collection(),
		OutputDir:       cfg.OutputDir,
		LedgerPath:      cfg.LedgerPath(),
		CacheDir:        cfg.CacheDir(),
		CacheMaxEntries: cfg.CacheMaxEntries,
		CacheTTL:        cfg.CacheTTL,
		Metrics:         m,
	}, logger)
	if err != nil {
		return nil, err
	}

	opts := ghclient.Options{
		Owner:           owner,
		Repo:            name,
		Token:           cfg.GitHubToken,
		BaseURL:         cfg.GitHubAPIURL,
		IncludeComments: cfg.IncludeComments,
		Concurrency:     cfg.FetchConcurrency,
		Cache:           eng.Cache(),
		CacheTTL:        cfg.CacheTTL,
		Metrics:         m,
	}
	if cfg.GitHubAppEnabled() {
		key, err := ghclient.LoadPrivateKey(cfg.GitHubPrivateKeyPath)
		if err != nil {
			return nil, err
		}
		opts.AppID = cfg.GitHubAppID
		opts.InstallationID = cfg.GitHubInstallationID
		opts.PrivateKey = key
	}
	client, err := ghclient.New(opts, logger)
	if err != nil {
		return nil, err
	}

	history, err := store.New(cfg.HistoryPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening run history: %w", err)
	}

	return &app{
		cfg:      cfg,
		engine:   eng,
		client:   client,
		history:  history,
		metrics:  m,
		renderer: render.Markdown{OmitComments: !cfg.IncludeComments},
		logger:   logger.With().Str("collection", cfg.Collection()).Logger(),
	}, nil
}

func (a *app) Close() error {
	return a.history.Close()
}

func (a *app) filter() ghclient.Filter {
	return ghclient.Filter{
		State:     a.cfg.IssueState,
		Labels:    a.cfg.LabelList(),
		Assignee:  a.cfg.Assignee,
		Milestone: a.cfg.Milestone,
	}
}

func (a *app) fetch(ctx context.Context) ([]*item.Item, error) {
	return a.client.Fetch(ctx, a.filter())
}

// runPass fetches and syncs once, recording the outcome in the run history
// and the metrics textfile.
func (a *app) runPass(ctx context.Context) (*engine.Report, error) {
	run := &store.Run{Collection: a.cfg.Collection(), Kind: store.KindSync, StartedAt: time.Now()}

	items, err := a.fetch(ctx)
	var report *engine.Report
	if err == nil {
		run.Fetched = len(items)
		report, err = a.engine.Sync(ctx, items, a.renderer)
	}
	if report != nil {
		run.New, run.Updated, run.Unchanged, run.Deleted = report.New, report.Updated, report.Unchanged, report.Deleted
		run.Moved, run.Restored, run.Failed, run.Unresolved = report.Moved, report.Restored, report.Failed, report.Unresolved
		for _, mv := range report.Moves {
			run.Moves = append(run.Moves, store.RunMove{ItemID: mv.ID, From: mv.From, To: mv.To})
		}
	}
	a.finish(run, err)
	return report, err
}

// finish stamps and records a run. History and textfile failures are only
// logged.
func (a *app) finish(run *store.Run, err error) {
	run.FinishedAt = time.Now()
	switch {
	case err == nil:
		run.Status = store.StatusOK
	case errors.Is(err, context.Canceled):
		run.Status = store.StatusCancelled
		run.Error = err.Error()
	default:
		run.Status = store.StatusFailed
		run.Error = err.Error()
	}

	// The pass context may be cancelled already; the record must still land.
	recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rerr := a.history.RecordRun(recordCtx, run); rerr != nil {
		a.logger.Warn().Err(rerr).Msg("failed to record run")
	}

	if path := a.cfg.MetricsTextfile; path != "" {
		if werr := a.metrics.WriteTextfile(path); werr != nil {
			a.logger.Warn().Err(werr).Str("path", path).Msg("failed to write metrics textfile")
		}
	}
}
