// Package classify maps an item to the category directory it belongs in.
package classify

import (
	"strings"

	"github.com/p-blackswan/issuemirror/internal/item"
)

// Category names a directory under the output tree.
type Category string

const (
	Active  Category = "active"
	Todo    Category = "todo"
	Done    Category = "done"
	Blocked Category = "blocked"
)

// All returns every category in a fixed order.
func All() []Category {
	return []Category{Active, Todo, Done, Blocked}
}

// Parse returns the category for a directory name.
func Parse(name string) (Category, bool) {
	for _, c := range All() {
		if string(c) == name {
			return c, true
		}
	}
	return "", false
}

// Classify returns the category for an item. The first matching rule wins:
// closed, then a "blocked" label, then an "in progress"/"active" label.
func Classify(it *item.Item) Category {
	if it.IsClosed() {
		return Done
	}
	if hasLabel(it, "blocked") {
		return Blocked
	}
	if hasLabel(it, "in progress", "active") {
		return Active
	}
	return Todo
}

func hasLabel(it *item.Item, needles ...string) bool {
	for _, l := range it.Labels {
		l = strings.ToLower(l)
		for _, n := range needles {
			if strings.Contains(l, n) {
				return true
			}
		}
	}
	return false
}
