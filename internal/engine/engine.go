// Package engine runs incremental sync passes for one collection: it diffs
// fetched items against the ledger, writes artifacts for what changed, keeps
// every artifact in its category directory, and persists the ledger once per
// pass.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/issuemirror/internal/cache"
	"github.com/p-blackswan/issuemirror/internal/classify"
	"github.com/p-blackswan/issuemirror/internal/item"
	"github.com/p-blackswan/issuemirror/internal/ledger"
	"github.com/p-blackswan/issuemirror/internal/metrics"
	"github.com/p-blackswan/issuemirror/internal/placer"
)

// Renderer turns an item into artifact content.
type Renderer interface {
	Render(it *item.Item) ([]byte, error)
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(it *item.Item) ([]byte, error)

// Render calls f(it).
func (f RenderFunc) Render(it *item.Item) ([]byte, error) {
	return f(it)
}

// Options configures an Engine. OutputDir and LedgerPath are required.
type Options struct {
	Collection      string
	OutputDir       string
	LedgerPath      string
	CacheDir        string
	CacheMaxEntries int
	CacheTTL        time.Duration
	Metrics         *metrics.Metrics
	Now             func() time.Time
}

// Report summarizes one sync pass.
type Report struct {
	Collection string `json:"collection"`
	New        int    `json:"new"`
	Updated    int    `json:"updated"`
	Unchanged  int    `json:"unchanged"`
	Deleted    int    `json:"deleted"`
	Moved      int    `json:"moved"`
	Restored   int    `json:"restored"`
	Failed     int    `json:"failed"`
	// Unresolved counts artifacts left outside their category directory.
	Unresolved int           `json:"unresolved"`
	Moves      []placer.Move `json:"moves,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Engine owns the ledger, cache and placer of one collection. It is not
// safe for concurrent use.
type Engine struct {
	opts    Options
	ledger  *ledger.Ledger
	cache   *cache.Store
	placer  *placer.Placer
	metrics *metrics.Metrics
	now     func() time.Time
	logger  zerolog.Logger
}

// New loads the collection's ledger and opens its cache.
func New(opts Options, logger zerolog.Logger) (*Engine, error) {
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("engine: output directory is required")
	}
	if opts.LedgerPath == "" {
		return nil, fmt.Errorf("engine: ledger path is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	l, err := ledger.Load(opts.LedgerPath, logger)
	if err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}

	e := &Engine{
		opts:    opts,
		ledger:  l,
		placer:  placer.New(opts.OutputDir, logger),
		metrics: opts.Metrics,
		now:     now,
		logger:  logger.With().Str("component", "engine").Str("collection", opts.Collection).Logger(),
	}
	if opts.CacheDir != "" {
		e.cache = cache.New(opts.CacheDir, cache.Options{
			MaxEntries: opts.CacheMaxEntries,
			DefaultTTL: opts.CacheTTL,
			Now:        now,
		}, logger)
	}
	return e, nil
}

// Cache returns the response cache, or nil when no cache directory was set.
func (e *Engine) Cache() *cache.Store {
	return e.cache
}

// Ledger exposes the loaded ledger for read-only reporting.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Diff computes the change set without touching anything.
func (e *Engine) Diff(items []*item.Item) ledger.ChangeSet {
	return ledger.Diff(items, e.ledger)
}

// Classify returns the category an item belongs to.
func (e *Engine) Classify(it *item.Item) classify.Category {
	return classify.Classify(it)
}

// Sync runs one pass over items. Per-item failures are logged and counted in
// the report. Only a ledger save failure or context cancellation is
// returned; on cancellation the ledger is left as it was on disk.
func (e *Engine) Sync(ctx context.Context, items []*item.Item, r Renderer) (*Report, error) {
	start := e.now()
	cs := e.Diff(items)
	report := &Report{
		Collection: e.opts.Collection,
		New:        len(cs.New),
		Updated:    len(cs.Updated),
		Unchanged:  len(cs.Unchanged),
		Deleted:    len(cs.Deleted),
	}

	e.logger.Info().
		Int("fetched", len(items)).
		Int("new", report.New).
		Int("updated", report.Updated).
		Int("unchanged", report.Unchanged).
		Int("deleted", report.Deleted).
		Msg("sync pass starting")

	for _, it := range cs.New {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.apply(it, r, report)
	}
	for _, it := range cs.Updated {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.apply(it, r, report)
	}
	for _, it := range cs.Unchanged {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.restoreIfMissing(it, r, report)
	}
	for _, rm := range cs.Deleted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.remove(rm, report)
	}

	e.ledger.SetLastSync(e.now())
	if err := e.ledger.Save(); err != nil {
		e.metrics.RecordFailure(e.opts.Collection, "ledger")
		return report, fmt.Errorf("saving ledger: %w", err)
	}

	report.Duration = e.now().Sub(start)
	e.record(report)
	e.logger.Info().
		Int("moved", report.Moved).
		Int("restored", report.Restored).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("sync pass finished")
	return report, nil
}

// apply renders and writes a new or updated item, relocating its previous
// artifact first when the category changed.
func (e *Engine) apply(it *item.Item, r Renderer, report *Report) {
	log := e.logger.With().Int("id", it.ID).Logger()

	content, err := r.Render(it)
	if err != nil {
		log.Error().Err(err).Msg("render failed")
		e.fail(report, "render")
		return
	}

	var previous string
	var moved *placer.Move
	if entry, ok := e.ledger.Entry(it.ID); ok {
		previous = entry.FilePath
		mv, err := e.placer.RelocateIfNeeded(it, &entry)
		if errors.Is(err, placer.ErrTargetExists) {
			// The fresh write below replaces the recorded file instead.
			log.Info().Err(err).Str("path", entry.FilePath).Msg("destination taken, rewriting in place of a move")
			err = nil
		}
		if err != nil {
			log.Error().Err(err).Str("path", entry.FilePath).Msg("relocation failed, artifact left in place")
			e.fail(report, "move")
			report.Unresolved++
			return
		}
		if mv != nil {
			moved = mv
			previous = mv.To
			report.Moved++
			report.Moves = append(report.Moves, *mv)
			e.metrics.RecordMove(e.opts.Collection, string(mv.ToCategory))
		}
	}

	target := placer.PathFor(it)
	if err := e.placer.Write(target, content); err != nil {
		log.Error().Err(err).Str("path", target).Msg("write failed")
		e.fail(report, "write")
		if moved != nil {
			// Keep the old fingerprint so the next pass retries the write.
			e.ledger.Relocate(it.ID, moved.To, moved.ToCategory)
		}
		return
	}
	if previous != "" && previous != target {
		if err := e.placer.Remove(previous); err != nil {
			log.Warn().Err(err).Str("path", previous).Msg("stale artifact not removed")
		}
	}

	e.ledger.MarkProcessed(it, target)
	log.Debug().Str("path", target).Msg("artifact written")
}

// restoreIfMissing rewrites the artifact of an unchanged item whose recorded
// file is gone from disk.
func (e *Engine) restoreIfMissing(it *item.Item, r Renderer, report *Report) {
	entry, ok := e.ledger.Entry(it.ID)
	if !ok || e.placer.Exists(entry.FilePath) {
		return
	}
	log := e.logger.With().Int("id", it.ID).Str("path", entry.FilePath).Logger()

	content, err := r.Render(it)
	if err != nil {
		log.Error().Err(err).Msg("render failed during restore")
		e.fail(report, "render")
		return
	}
	target := placer.PathFor(it)
	if err := e.placer.Write(target, content); err != nil {
		log.Error().Err(err).Msg("restore failed")
		e.fail(report, "write")
		return
	}
	e.ledger.MarkProcessed(it, target)
	report.Restored++
	log.Info().Str("target", target).Msg("missing artifact restored")
}

func (e *Engine) remove(rm ledger.Removed, report *Report) {
	if err := e.placer.Remove(rm.Entry.FilePath); err != nil {
		e.logger.Error().Err(err).Int("id", rm.ID).Str("path", rm.Entry.FilePath).Msg("delete failed")
		e.fail(report, "delete")
		return
	}
	e.ledger.RemoveEntry(rm.ID)
	e.logger.Debug().Int("id", rm.ID).Str("path", rm.Entry.FilePath).Msg("artifact deleted")
}

func (e *Engine) fail(report *Report, op string) {
	report.Failed++
	e.metrics.RecordFailure(e.opts.Collection, op)
}

func (e *Engine) record(report *Report) {
	c := e.opts.Collection
	e.metrics.RecordItems(c, "new", report.New)
	e.metrics.RecordItems(c, "updated", report.Updated)
	e.metrics.RecordItems(c, "unchanged", report.Unchanged)
	e.metrics.RecordItems(c, "deleted", report.Deleted)
	last, _ := e.ledger.LastSync()
	e.metrics.ObserveSync(c, report.Duration.Seconds(), float64(last.Unix()), e.ledger.Len())
}

// Reorganize scans the output tree and moves artifacts whose category
// changed. A tracked item's ledger entry follows its artifact only when the
// moved file is the one the ledger records. A duplicate whose destination is
// the tracked artifact is stale and is deleted. Fingerprints are kept, so
// content changes are still picked up by the next pass. With dryRun nothing
// is moved or deleted and the ledger is not written.
func (e *Engine) Reorganize(items []*item.Item, dryRun bool) (*placer.ReorganizeReport, error) {
	report, err := e.placer.Reorganize(items, dryRun)
	if err != nil {
		return nil, err
	}
	if dryRun {
		return report, nil
	}

	relocated := 0
	for _, mv := range report.Moves {
		e.metrics.RecordMove(e.opts.Collection, string(mv.ToCategory))
		entry, ok := e.ledger.Entry(mv.ID)
		if !ok || entry.FilePath != mv.From {
			e.logger.Info().Int("id", mv.ID).Str("path", mv.To).Msg("moved artifact is not the tracked one, ledger unchanged")
			continue
		}
		e.ledger.Relocate(mv.ID, mv.To, mv.ToCategory)
		relocated++
	}

	var unresolved []placer.Move
	for _, dup := range report.Duplicates {
		entry, ok := e.ledger.Entry(dup.ID)
		if !ok || entry.FilePath != dup.To {
			unresolved = append(unresolved, dup)
			continue
		}
		if err := e.placer.Remove(dup.From); err != nil {
			e.logger.Error().Err(err).Int("id", dup.ID).Str("path", dup.From).Msg("stale duplicate not removed")
			unresolved = append(unresolved, dup)
			continue
		}
		e.logger.Info().Int("id", dup.ID).Str("path", dup.From).Str("tracked", dup.To).Msg("stale duplicate removed")
		report.Pruned = append(report.Pruned, dup.From)
	}
	report.Duplicates = unresolved

	if relocated == 0 {
		return report, nil
	}
	if err := e.ledger.Save(); err != nil {
		return report, fmt.Errorf("saving ledger: %w", err)
	}
	return report, nil
}

// Reset forgets every processed item and clears the response cache. The
// next pass rewrites every artifact.
func (e *Engine) Reset() error {
	if err := e.ledger.Reset(); err != nil {
		return fmt.Errorf("resetting ledger: %w", err)
	}
	if e.cache != nil {
		e.cache.Clear()
	}
	e.logger.Info().Msg("ledger and cache reset")
	return nil
}
