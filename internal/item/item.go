// Package item defines the mirrored record as the sync engine sees it.
package item

import (
	"strings"
	"time"
)

// State is the lifecycle state of an item.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

// Milestone is the optional milestone an item belongs to.
type Milestone struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
}

// Comment is a single comment on an item.
type Comment struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attachment is a file linked from an item body.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Item is a remote record, consumed read-only by the engine.
// Comments and Attachments are nil when they were not fetched.
type Item struct {
	ID          int          `json:"id"`
	Title       string       `json:"title"`
	Body        string       `json:"body"`
	State       State        `json:"state"`
	Labels      []string     `json:"labels,omitempty"`
	Assignees   []string     `json:"assignees,omitempty"`
	Milestone   *Milestone   `json:"milestone,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Comments    []Comment    `json:"comments,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// Rendering only; not part of the fingerprint.
	URL       string    `json:"url,omitempty"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IsClosed reports whether the item is in the closed state.
func (i *Item) IsClosed() bool {
	return strings.EqualFold(string(i.State), string(StateClosed))
}

// MilestoneTitle returns the milestone title or "" when there is none.
func (i *Item) MilestoneTitle() string {
	if i.Milestone == nil {
		return ""
	}
	return i.Milestone.Title
}

// Index maps items by ID. The first occurrence of a duplicate ID wins.
func Index(items []*Item) map[int]*Item {
	out := make(map[int]*Item, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		if _, ok := out[it.ID]; !ok {
			out[it.ID] = it
		}
	}
	return out
}
