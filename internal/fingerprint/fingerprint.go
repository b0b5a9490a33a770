// Package fingerprint computes stable content hashes for items.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/p-blackswan/issuemirror/internal/item"
)

// projection is the canonical form that gets hashed. Field order is fixed by
// the struct, so encoding/json output is stable.
type projection struct {
	ID          int            `json:"id"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	State       string         `json:"state"`
	UpdatedAt   string         `json:"updated_at"`
	Labels      []string       `json:"labels"`
	Assignees   []string       `json:"assignees"`
	Milestone   string         `json:"milestone"`
	Comments    commentSummary `json:"comments"`
	Attachments attachSummary  `json:"attachments"`
}

type commentRef struct {
	ID        int64  `json:"id"`
	Author    string `json:"author"`
	UpdatedAt string `json:"updated_at"`
}

type commentSummary struct {
	Count   int          `json:"count"`
	Entries []commentRef `json:"entries"`
}

type attachRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type attachSummary struct {
	Count   int         `json:"count"`
	Entries []attachRef `json:"entries"`
}

// Of returns the hex SHA-256 fingerprint of an item.
func Of(it *item.Item) string {
	b, err := json.Marshal(project(it))
	if err != nil {
		// projection holds only strings, ints and slices of them
		panic("fingerprint: " + err.Error())
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func project(it *item.Item) projection {
	p := projection{
		ID:        it.ID,
		Title:     it.Title,
		Body:      it.Body,
		State:     string(it.State),
		UpdatedAt: stamp(it.UpdatedAt),
		Labels:    sortedCopy(it.Labels),
		Assignees: sortedCopy(it.Assignees),
		Milestone: it.MilestoneTitle(),
		Comments:  commentSummary{Entries: []commentRef{}},
		Attachments: attachSummary{
			Entries: []attachRef{},
		},
	}

	for _, c := range it.Comments {
		p.Comments.Entries = append(p.Comments.Entries, commentRef{
			ID:        c.ID,
			Author:    c.Author,
			UpdatedAt: stamp(c.UpdatedAt),
		})
	}
	sort.Slice(p.Comments.Entries, func(i, j int) bool {
		return p.Comments.Entries[i].ID < p.Comments.Entries[j].ID
	})
	p.Comments.Count = len(p.Comments.Entries)

	for _, a := range it.Attachments {
		p.Attachments.Entries = append(p.Attachments.Entries, attachRef{Name: a.Name, URL: a.URL})
	}
	sort.Slice(p.Attachments.Entries, func(i, j int) bool {
		ei, ej := p.Attachments.Entries[i], p.Attachments.Entries[j]
		if ei.URL != ej.URL {
			return ei.URL < ej.URL
		}
		return ei.Name < ej.Name
	})
	p.Attachments.Count = len(p.Attachments.Entries)

	return p
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

// stamp normalizes a timestamp so equal instants hash equally regardless of
// location. The zero time maps to "".
func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
