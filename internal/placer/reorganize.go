package placer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/p-blackswan/issuemirror/internal/classify"
	"github.com/p-blackswan/issuemirror/internal/item"
)

// ReorganizeReport summarizes a directory scan.
type ReorganizeReport struct {
	DryRun  bool   `json:"dryRun"`
	Scanned int    `json:"scanned"`
	Moves   []Move `json:"moves"`
	// Orphans are artifacts whose item is not in the fetched set. They are
	// left in place.
	Orphans []string `json:"orphans,omitempty"`
	// Unparseable are files whose name carries no item identifier.
	Unparseable []string `json:"unparseable,omitempty"`
	// Duplicates are moves not made because another file already holds the
	// destination name. The source is left in place.
	Duplicates []Move `json:"duplicates,omitempty"`
	// Pruned are duplicate sources deleted because the ledger tracks the
	// file at their destination.
	Pruned []string `json:"pruned,omitempty"`
	Failed []string `json:"failed,omitempty"`
}

// Unresolved counts artifacts the scan could not place.
func (r *ReorganizeReport) Unresolved() int {
	return len(r.Orphans) + len(r.Unparseable) + len(r.Duplicates)
}

type found struct {
	category classify.Category
	name     string
}

// Reorganize scans the category directories on disk, ignoring the ledger,
// and moves every artifact whose item now classifies differently. With
// dryRun the moves are reported but not performed. An existing file at the
// destination is never replaced; the move is reported as a duplicate. Only
// a failure to read the base directory is returned.
func (p *Placer) Reorganize(items []*item.Item, dryRun bool) (*ReorganizeReport, error) {
	report := &ReorganizeReport{DryRun: dryRun}

	if _, err := os.Stat(p.baseDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return report, nil
		}
		return nil, fmt.Errorf("reading %s: %w", p.baseDir, err)
	}

	// List everything before moving so the scan sees the tree as it was.
	var files []found
	for _, cat := range classify.All() {
		ents, err := os.ReadDir(filepath.Join(p.baseDir, string(cat)))
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				p.logger.Warn().Err(err).Str("category", string(cat)).Msg("category directory unreadable")
			}
			continue
		}
		for _, de := range ents {
			if !de.Type().IsRegular() || strings.HasPrefix(de.Name(), ".") {
				continue
			}
			files = append(files, found{category: cat, name: de.Name()})
		}
	}
	report.Scanned = len(files)

	byID := item.Index(items)
	// Destinations taken by earlier moves of this scan, so a dry run sees
	// the same collisions as a real one.
	claimed := make(map[string]bool)
	for _, f := range files {
		rel := path.Join(string(f.category), f.name)

		id, ok := IDFromName(f.name)
		if !ok {
			report.Unparseable = append(report.Unparseable, rel)
			continue
		}
		it, ok := byID[id]
		if !ok {
			p.logger.Info().Int("id", id).Str("path", rel).Msg("artifact has no fetched item, leaving in place")
			report.Orphans = append(report.Orphans, rel)
			continue
		}

		want := classify.Classify(it)
		if want == f.category {
			continue
		}

		mv := Move{
			ID:           id,
			From:         rel,
			To:           path.Join(string(want), f.name),
			FromCategory: f.category,
			ToCategory:   want,
		}
		err := p.checkTarget(mv.To)
		if err == nil && claimed[mv.To] {
			err = ErrTargetExists
		}
		if err == nil && !dryRun {
			err = p.move(mv)
		}
		switch {
		case errors.Is(err, ErrTargetExists):
			p.logger.Warn().Int("id", id).Str("from", mv.From).Str("to", mv.To).Msg("destination taken, duplicate left in place")
			report.Duplicates = append(report.Duplicates, mv)
			continue
		case err != nil:
			p.logger.Error().Err(err).Int("id", id).Msg("reorganize move failed")
			report.Failed = append(report.Failed, rel)
			continue
		}
		claimed[mv.To] = true
		report.Moves = append(report.Moves, mv)
	}

	p.logger.Info().
		Bool("dry_run", dryRun).
		Int("scanned", report.Scanned).
		Int("moved", len(report.Moves)).
		Int("unresolved", report.Unresolved()).
		Msg("reorganize finished")
	return report, nil
}
