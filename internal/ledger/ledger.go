// Package ledger records, per collection, what the last sync pass wrote for
// every item: its fingerprint, artifact path and category.
package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/issuemirror/internal/classify"
	"github.com/p-blackswan/issuemirror/internal/fingerprint"
	"github.com/p-blackswan/issuemirror/internal/item"
)

// Version is the persisted format version. Documents carrying any other
// version are discarded and trigger a full resync.
const Version = "1"

// Entry is the ledger record for one item.
type Entry struct {
	Hash          string            `json:"hash"`
	FilePath      string            `json:"filePath"`
	LastProcessed time.Time         `json:"lastProcessed"`
	State         classify.Category `json:"state"`
}

// document is the persisted form.
type document struct {
	LastSync *time.Time     `json:"lastSync"`
	Version  string         `json:"version"`
	Issues   map[int]*Entry `json:"issues"`
}

// Ledger is the durable record for one collection. It is not safe for
// concurrent use; an engine owns exactly one.
type Ledger struct {
	path     string
	lastSync *time.Time
	entries  map[int]*Entry
	now      func() time.Time
	logger   zerolog.Logger
}

// New returns an empty ledger that persists to path.
func New(path string, logger zerolog.Logger) *Ledger {
	return &Ledger{
		path:    path,
		entries: make(map[int]*Entry),
		now:     time.Now,
		logger:  logger.With().Str("component", "ledger").Logger(),
	}
}

// Load reads the ledger at path. A missing file, an unparseable document or
// an unknown version yields an empty ledger. Any other read failure is
// returned: losing track of the ledger location must not pass silently.
func Load(path string, logger zerolog.Logger) (*Ledger, error) {
	l := New(path, logger)

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.Info().Str("path", path).Msg("no ledger yet, starting empty")
			return l, nil
		}
		return nil, fmt.Errorf("reading ledger %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		l.logger.Warn().Err(err).Str("path", path).Msg("ledger unparseable, full resync")
		return l, nil
	}
	if doc.Version != Version {
		l.logger.Warn().Str("path", path).Str("version", doc.Version).Msg("unknown ledger version, full resync")
		return l, nil
	}

	l.lastSync = doc.LastSync
	for id, e := range doc.Issues {
		if e == nil {
			continue
		}
		l.entries[id] = e
	}
	l.logger.Debug().Str("path", path).Int("entries", len(l.entries)).Msg("ledger loaded")
	return l, nil
}

// Save writes the whole ledger atomically.
func (l *Ledger) Save() error {
	doc := document{
		LastSync: l.lastSync,
		Version:  Version,
		Issues:   l.entries,
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}
	if err := atomic.WriteFile(l.path, bytes.NewReader(b)); err != nil {
		return fmt.Errorf("writing ledger %s: %w", l.path, err)
	}
	return nil
}

// Reset empties the ledger and persists the empty state.
func (l *Ledger) Reset() error {
	l.entries = make(map[int]*Entry)
	l.lastSync = nil
	return l.Save()
}

// Path returns where the ledger persists.
func (l *Ledger) Path() string {
	return l.path
}

// Entry returns a copy of the entry for id.
func (l *Ledger) Entry(id int) (Entry, bool) {
	e, ok := l.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// MarkProcessed records that the artifact for it was written at relPath.
// Call it only after the write succeeded.
func (l *Ledger) MarkProcessed(it *item.Item, relPath string) {
	l.entries[it.ID] = &Entry{
		Hash:          fingerprint.Of(it),
		FilePath:      filepath.ToSlash(relPath),
		LastProcessed: l.now().UTC(),
		State:         classify.Classify(it),
	}
}

// Relocate records that the artifact for id now lives at relPath under
// category state. The fingerprint is kept: moving a file does not rewrite
// its content. It reports false when id is not tracked.
func (l *Ledger) Relocate(id int, relPath string, state classify.Category) bool {
	e, ok := l.entries[id]
	if !ok {
		return false
	}
	e.FilePath = filepath.ToSlash(relPath)
	e.State = state
	return true
}

// RemoveEntry forgets id. Call it after the artifact is gone from disk.
func (l *Ledger) RemoveEntry(id int) {
	delete(l.entries, id)
}

// IDs returns all tracked identifiers in ascending order.
func (l *Ledger) IDs() []int {
	ids := make([]int, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// LastSync returns the time of the last completed pass, if any.
func (l *Ledger) LastSync() (time.Time, bool) {
	if l.lastSync == nil {
		return time.Time{}, false
	}
	return *l.lastSync, true
}

// SetLastSync records the completion time of a pass.
func (l *Ledger) SetLastSync(t time.Time) {
	t = t.UTC()
	l.lastSync = &t
}
