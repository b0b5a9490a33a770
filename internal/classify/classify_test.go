package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/p-blackswan/issuemirror/internal/item"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		state  item.State
		labels []string
		want   Category
	}{
		{"closed wins over blocked", item.StateClosed, []string{"blocked"}, Done},
		{"closed uppercase", "CLOSED", nil, Done},
		{"blocked", item.StateOpen, []string{"Blocked by infra"}, Blocked},
		{"blocked wins over in progress", item.StateOpen, []string{"in progress", "blocked"}, Blocked},
		{"in progress", item.StateOpen, []string{"status: In Progress"}, Active},
		{"active", item.StateOpen, []string{"ACTIVE"}, Active},
		{"plain open", item.StateOpen, []string{"bug"}, Todo},
		{"no labels", item.StateOpen, nil, Todo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := &item.Item{ID: 1, State: tt.state, Labels: tt.labels}
			assert.Equal(t, tt.want, Classify(it))
			assert.Equal(t, tt.want, Classify(it), "classification must be deterministic")
		})
	}
}

func TestParse(t *testing.T) {
	for _, c := range All() {
		got, ok := Parse(string(c))
		assert.True(t, ok)
		assert.Equal(t, c, got)
	}
	_, ok := Parse("archive")
	assert.False(t, ok)
}
