package github

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	gogithub "github.com/google/go-github/v60/github"

	"github.com/p-blackswan/issuemirror/internal/item"
)

var (
	// [text](url) and ![alt](url)
	markdownLink = regexp.MustCompile(`!?\[([^\]]*)\]\((https?://[^\s)]+)\)`)
	// <img src="url"> as pasted by the web editor
	htmlImage = regexp.MustCompile(`<img[^>]*\bsrc="(https?://[^"]+)"`)
)

func toItem(is *gogithub.Issue) *item.Item {
	it := &item.Item{
		ID:        is.GetNumber(),
		Title:     is.GetTitle(),
		Body:      is.GetBody(),
		State:     item.State(is.GetState()),
		UpdatedAt: is.GetUpdatedAt().Time,
		CreatedAt: is.GetCreatedAt().Time,
		URL:       is.GetHTMLURL(),
		Author:    is.GetUser().GetLogin(),
	}
	for _, l := range is.Labels {
		if name := l.GetName(); name != "" {
			it.Labels = append(it.Labels, name)
		}
	}
	for _, u := range is.Assignees {
		if login := u.GetLogin(); login != "" {
			it.Assignees = append(it.Assignees, login)
		}
	}
	if m := is.Milestone; m != nil {
		it.Milestone = &item.Milestone{Number: m.GetNumber(), Title: m.GetTitle()}
	}
	it.Attachments = extractAttachments(it.Body)
	return it
}

func toComment(c *gogithub.IssueComment) item.Comment {
	return item.Comment{
		ID:        c.GetID(),
		Author:    c.GetUser().GetLogin(),
		Body:      c.GetBody(),
		CreatedAt: c.GetCreatedAt().Time,
		UpdatedAt: c.GetUpdatedAt().Time,
	}
}

// extractAttachments finds files uploaded to GitHub and linked from body.
// Links to anything else are ordinary references, not attachments.
func extractAttachments(body string) []item.Attachment {
	var out []item.Attachment
	seen := make(map[string]bool)
	add := func(name, raw string) {
		if seen[raw] || !isUpload(raw) {
			return
		}
		seen[raw] = true
		if name == "" {
			name = path.Base(raw)
		}
		out = append(out, item.Attachment{Name: name, URL: raw})
	}

	for _, m := range markdownLink.FindAllStringSubmatch(body, -1) {
		add(strings.TrimSpace(m[1]), m[2])
	}
	for _, m := range htmlImage.FindAllStringSubmatch(body, -1) {
		add("", m[1])
	}
	return out
}

func isUpload(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	switch {
	case strings.HasSuffix(host, ".githubusercontent.com"):
		return true
	case host == "github.com":
		return strings.HasPrefix(u.Path, "/user-attachments/") || strings.Contains(u.Path, "/assets/") || strings.Contains(u.Path, "/files/")
	}
	return false
}
