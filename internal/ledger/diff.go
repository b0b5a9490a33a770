package ledger

import (
	"sort"

	"github.com/p-blackswan/issuemirror/internal/fingerprint"
	"github.com/p-blackswan/issuemirror/internal/item"
)

// Removed is a ledger entry whose item is no longer in the fetched set.
type Removed struct {
	ID    int
	Entry Entry
}

// ChangeSet partitions one fetch against the ledger. Every fetched ID lands
// in exactly one of New, Updated, Unchanged; every ledger ID missing from
// the fetch lands in Deleted.
type ChangeSet struct {
	New       []*item.Item
	Updated   []*item.Item
	Unchanged []*item.Item
	Deleted   []Removed
}

// Counts summarizes a change set.
type Counts struct {
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
}

// Counts returns the partition sizes.
func (c ChangeSet) Counts() Counts {
	return Counts{
		New:       len(c.New),
		Updated:   len(c.Updated),
		Unchanged: len(c.Unchanged),
		Deleted:   len(c.Deleted),
	}
}

// Diff computes the change set for items. It reads the ledger but never
// modifies it. Duplicate IDs in items are ignored after the first.
func Diff(items []*item.Item, l *Ledger) ChangeSet {
	var cs ChangeSet
	seen := make(map[int]struct{}, len(items))

	for _, it := range items {
		if it == nil {
			continue
		}
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}

		e, ok := l.entries[it.ID]
		switch {
		case !ok:
			cs.New = append(cs.New, it)
		case e.Hash != fingerprint.Of(it):
			cs.Updated = append(cs.Updated, it)
		default:
			cs.Unchanged = append(cs.Unchanged, it)
		}
	}

	for id, e := range l.entries {
		if _, ok := seen[id]; ok {
			continue
		}
		cs.Deleted = append(cs.Deleted, Removed{ID: id, Entry: *e})
	}
	sort.Slice(cs.Deleted, func(i, j int) bool { return cs.Deleted[i].ID < cs.Deleted[j].ID })

	return cs
}
