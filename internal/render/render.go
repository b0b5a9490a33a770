// Package render turns items into Markdown documents with YAML front matter.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/issuemirror/internal/classify"
	"github.com/p-blackswan/issuemirror/internal/item"
)

const delimiter = "---\n"

// FrontMatter is the metadata block at the top of every artifact.
type FrontMatter struct {
	ID        int      `yaml:"id"`
	Title     string   `yaml:"title"`
	State     string   `yaml:"state"`
	Category  string   `yaml:"category"`
	Labels    []string `yaml:"labels,omitempty"`
	Assignees []string `yaml:"assignees,omitempty"`
	Milestone string   `yaml:"milestone,omitempty"`
	Author    string   `yaml:"author,omitempty"`
	URL       string   `yaml:"url,omitempty"`
	Created   string   `yaml:"created,omitempty"`
	Updated   string   `yaml:"updated,omitempty"`
	Comments  int      `yaml:"comments,omitempty"`
}

// Markdown renders artifacts. The zero value renders comments.
type Markdown struct {
	// OmitComments drops the comment thread from the output.
	OmitComments bool
}

// Render implements engine.Renderer.
func (m Markdown) Render(it *item.Item) ([]byte, error) {
	fm := FrontMatter{
		ID:        it.ID,
		Title:     it.Title,
		State:     string(it.State),
		Category:  string(classify.Classify(it)),
		Labels:    it.Labels,
		Assignees: it.Assignees,
		Milestone: it.MilestoneTitle(),
		Author:    it.Author,
		URL:       it.URL,
		Created:   stamp(it.CreatedAt),
		Updated:   stamp(it.UpdatedAt),
		Comments:  len(it.Comments),
	}
	head, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("encoding front matter for #%d: %w", it.ID, err)
	}

	var b bytes.Buffer
	b.WriteString(delimiter)
	b.Write(head)
	b.WriteString(delimiter)
	fmt.Fprintf(&b, "\n# %s\n", it.Title)

	if body := strings.TrimSpace(it.Body); body != "" {
		fmt.Fprintf(&b, "\n%s\n", body)
	}

	if len(it.Attachments) > 0 {
		b.WriteString("\n## Attachments\n\n")
		for _, a := range it.Attachments {
			fmt.Fprintf(&b, "- [%s](%s)\n", a.Name, a.URL)
		}
	}

	if !m.OmitComments && len(it.Comments) > 0 {
		b.WriteString("\n## Comments\n")
		for _, c := range it.Comments {
			author := c.Author
			if author == "" {
				author = "unknown"
			}
			fmt.Fprintf(&b, "\n### %s", author)
			if ts := stamp(c.CreatedAt); ts != "" {
				fmt.Fprintf(&b, " (%s)", ts)
			}
			b.WriteString("\n")
			if body := strings.TrimSpace(c.Body); body != "" {
				fmt.Fprintf(&b, "\n%s\n", body)
			}
		}
	}
	return b.Bytes(), nil
}

// Parse splits an artifact into its front matter and Markdown body.
func Parse(content []byte) (*FrontMatter, []byte, error) {
	s := string(content)
	if !strings.HasPrefix(s, delimiter) {
		return nil, nil, fmt.Errorf("missing front matter")
	}
	rest := s[len(delimiter):]
	end := strings.Index(rest, "\n"+delimiter)
	if end < 0 {
		return nil, nil, fmt.Errorf("unterminated front matter")
	}

	var fm FrontMatter
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &fm); err != nil {
		return nil, nil, fmt.Errorf("decoding front matter: %w", err)
	}
	return &fm, []byte(rest[end+1+len(delimiter):]), nil
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// VerifyID checks that content is an artifact for item id.
func VerifyID(id int, content []byte) error {
	fm, _, err := Parse(content)
	if err != nil {
		return err
	}
	if fm.ID != id {
		return fmt.Errorf("front matter names item %d, want %d", fm.ID, id)
	}
	return nil
}
