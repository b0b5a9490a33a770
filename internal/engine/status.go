package engine

import (
	"os"
	"time"

	"github.com/p-blackswan/issuemirror/internal/classify"
)

// Verifier checks the content of one artifact against the item id the
// ledger recorded for it.
type Verifier func(id int, content []byte) error

// Problem is an artifact that does not match its ledger entry.
type Problem struct {
	ID     int    `json:"id"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Status describes the ledger and the tree as they are on disk.
type Status struct {
	Collection string                    `json:"collection"`
	LastSync   *time.Time                `json:"lastSync,omitempty"`
	Entries    int                       `json:"entries"`
	Categories map[classify.Category]int `json:"categories"`
	Missing    []Problem                 `json:"missing,omitempty"`
	Invalid    []Problem                 `json:"invalid,omitempty"`
}

// Healthy reports whether every tracked artifact exists and verified.
func (s *Status) Healthy() bool {
	return len(s.Missing) == 0 && len(s.Invalid) == 0
}

// Status inspects every ledger entry. With a non-nil verify each existing
// artifact is read and checked. It writes nothing.
func (e *Engine) Status(verify Verifier) *Status {
	st := &Status{
		Collection: e.opts.Collection,
		Entries:    e.ledger.Len(),
		Categories: make(map[classify.Category]int, len(classify.All())),
	}
	for _, c := range classify.All() {
		st.Categories[c] = 0
	}
	if t, ok := e.ledger.LastSync(); ok {
		st.LastSync = &t
	}

	for _, id := range e.ledger.IDs() {
		entry, _ := e.ledger.Entry(id)
		st.Categories[entry.State]++

		if !e.placer.Exists(entry.FilePath) {
			st.Missing = append(st.Missing, Problem{ID: id, Path: entry.FilePath, Reason: "artifact missing"})
			continue
		}
		if verify == nil {
			continue
		}
		content, err := os.ReadFile(e.placer.Abs(entry.FilePath))
		if err != nil {
			st.Invalid = append(st.Invalid, Problem{ID: id, Path: entry.FilePath, Reason: err.Error()})
			continue
		}
		if err := verify(id, content); err != nil {
			st.Invalid = append(st.Invalid, Problem{ID: id, Path: entry.FilePath, Reason: err.Error()})
		}
	}
	return st
}
