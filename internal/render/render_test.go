package render

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/issuemirror/internal/item"
)

func sampleItem() *item.Item {
	return &item.Item{
		ID:        42,
		Title:     "Login: broken on Safari",
		Body:      "Steps to reproduce\n\n1. open\n",
		State:     item.StateOpen,
		Labels:    []string{"bug", "blocked"},
		Assignees: []string{"dana"},
		Milestone: &item.Milestone{Number: 1, Title: "v1.0"},
		Author:    "sam",
		URL:       "https://github.com/acme/widgets/issues/42",
		CreatedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2024, 5, 3, 10, 0, 0, 0, time.FixedZone("CEST", 2*3600)),
		Comments: []item.Comment{
			{ID: 1, Author: "dana", Body: "on it", CreatedAt: time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)},
		},
		Attachments: []item.Attachment{{Name: "trace", URL: "https://github.com/user-attachments/assets/abc"}},
	}
}

func TestRender_FrontMatterRoundTrip(t *testing.T) {
	out, err := Markdown{}.Render(sampleItem())
	require.NoError(t, err)

	fm, body, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, 42, fm.ID)
	assert.Equal(t, "Login: broken on Safari", fm.Title)
	assert.Equal(t, "open", fm.State)
	assert.Equal(t, "blocked", fm.Category)
	assert.Equal(t, []string{"bug", "blocked"}, fm.Labels)
	assert.Equal(t, "v1.0", fm.Milestone)
	assert.Equal(t, "2024-05-03T08:00:00Z", fm.Updated)
	assert.Equal(t, 1, fm.Comments)

	text := string(body)
	assert.True(t, strings.HasPrefix(text, "\n# Login: broken on Safari\n"))
	assert.Contains(t, text, "Steps to reproduce")
	assert.Contains(t, text, "- [trace](https://github.com/user-attachments/assets/abc)")
	assert.Contains(t, text, "### dana (2024-05-02T08:00:00Z)\n\non it\n")
}

func TestRender_OmitComments(t *testing.T) {
	out, err := Markdown{OmitComments: true}.Render(sampleItem())
	require.NoError(t, err)
	assert.NotContains(t, string(out), "## Comments")
}

func TestRender_Minimal(t *testing.T) {
	out, err := Markdown{}.Render(&item.Item{ID: 1, Title: "x", State: item.StateClosed})
	require.NoError(t, err)

	fm, body, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, "done", fm.Category)
	assert.Empty(t, fm.Labels)
	assert.Equal(t, "\n# x\n", string(body))
	assert.NotContains(t, string(out), "created:")
}

func TestRender_Deterministic(t *testing.T) {
	a, err := Markdown{}.Render(sampleItem())
	require.NoError(t, err)
	b, err := Markdown{}.Render(sampleItem())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParse_Errors(t *testing.T) {
	_, _, err := Parse([]byte("# no front matter\n"))
	assert.Error(t, err)

	_, _, err = Parse([]byte("---\nid: 1\n"))
	assert.Error(t, err)

	_, _, err = Parse([]byte("---\nid: [\n---\n"))
	assert.Error(t, err)
}

func TestVerifyID(t *testing.T) {
	out, err := Markdown{}.Render(&item.Item{ID: 9, Title: "Nine", State: item.StateOpen})
	require.NoError(t, err)

	assert.NoError(t, VerifyID(9, out))
	assert.ErrorContains(t, VerifyID(10, out), "names item 9")
	assert.Error(t, VerifyID(9, []byte("# no front matter\n")))
}
