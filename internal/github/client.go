// Package github fetches a repository's issues, with their comments and
// attachments, as items ready for the sync engine.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/p-blackswan/issuemirror/internal/cache"
	"github.com/p-blackswan/issuemirror/internal/item"
	"github.com/p-blackswan/issuemirror/internal/metrics"
	"github.com/p-blackswan/issuemirror/internal/retry"
)

const perPage = 100

// Options configures a Client. Either Token or the App triple
// (AppID, InstallationID, PrivateKey) authenticates; with neither the
// client is anonymous.
type Options struct {
	Owner string
	Repo  string

	Token          string
	AppID          int64
	InstallationID int64
	PrivateKey     []byte

	// BaseURL points at a GitHub Enterprise Server instance.
	BaseURL string

	IncludeComments bool
	// Concurrency bounds parallel comment fetches.
	Concurrency int

	Cache    *cache.Store
	CacheTTL time.Duration
	Metrics  *metrics.Metrics
	Retry    retry.Config
}

// Filter narrows which issues are listed.
type Filter struct {
	State     string   `json:"state"`
	Labels    []string `json:"labels,omitempty"`
	Assignee  string   `json:"assignee,omitempty"`
	Milestone string   `json:"milestone,omitempty"`
}

// Client fetches issues from one repository.
type Client struct {
	gh     *gogithub.Client
	opts   Options
	logger zerolog.Logger
}

// New creates a Client for opts.
func New(opts Options, logger zerolog.Logger) (*Client, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, fmt.Errorf("github: owner and repo are required")
	}

	var gh *gogithub.Client
	switch {
	case opts.AppID != 0:
		tr, err := newAppTransport(opts.AppID, opts.InstallationID, opts.PrivateKey, opts.BaseURL, logger)
		if err != nil {
			return nil, err
		}
		gh = gogithub.NewClient(&http.Client{Transport: tr, Timeout: 30 * time.Second})
	case opts.Token != "":
		gh = gogithub.NewClient(&http.Client{Timeout: 30 * time.Second}).WithAuthToken(opts.Token)
	default:
		gh = gogithub.NewClient(&http.Client{Timeout: 30 * time.Second})
	}

	if opts.BaseURL != "" {
		var err error
		if gh, err = gh.WithEnterpriseURLs(opts.BaseURL, opts.BaseURL); err != nil {
			return nil, fmt.Errorf("configuring base URL: %w", err)
		}
	}
	return newClient(gh, opts, logger), nil
}

func newClient(gh *gogithub.Client, opts Options, logger zerolog.Logger) *Client {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = retry.DefaultConfig()
	}
	c := &Client{
		gh:   gh,
		opts: opts,
		logger: logger.With().
			Str("component", "github").
			Str("repo", opts.Owner+"/"+opts.Repo).
			Logger(),
	}
	if c.opts.Retry.OnRetry == nil {
		c.opts.Retry.OnRetry = func(attempt int, delay time.Duration, err error) {
			c.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("upstream call failed, retrying")
		}
	}
	return c
}

// Collection names the mirrored repository.
func (c *Client) Collection() string {
	return c.opts.Owner + "/" + c.opts.Repo
}

// Fetch lists every issue matching f, skipping pull requests, and attaches
// comments when enabled. Comments are fetched before returning so the
// engine fingerprints complete items.
func (c *Client) Fetch(ctx context.Context, f Filter) ([]*item.Item, error) {
	if f.State == "" {
		f.State = "all"
	}

	var items []*item.Item
	counts := make(map[int]int) // issue number → upstream comment count
	for page := 1; page != 0; {
		p, err := c.issuePage(ctx, f, page)
		if err != nil {
			return nil, err
		}
		for _, it := range p.Items {
			items = append(items, it.Item)
			counts[it.ID] = it.CommentCount
		}
		page = p.NextPage
	}

	if c.opts.IncludeComments {
		if err := c.attachComments(ctx, items, counts); err != nil {
			return nil, err
		}
	}

	c.logger.Info().Int("items", len(items)).Msg("issues fetched")
	return items, nil
}

// Invalidate drops the cached issue pages for f so the next Fetch lists
// from upstream. Comment lists are keyed by issue update time and need no
// invalidation.
func (c *Client) Invalidate(f Filter) {
	if c.opts.Cache == nil {
		return
	}
	if f.State == "" {
		f.State = "all"
	}
	for page := 1; page != 0; {
		key := c.cacheKey("issues", pageKey{Owner: c.opts.Owner, Repo: c.opts.Repo, Filter: f, Page: page})
		var p issuePage
		if key == "" || !c.opts.Cache.GetInto(key, &p) {
			return
		}
		c.opts.Cache.Delete(key)
		page = p.NextPage
	}
}

type listedItem struct {
	*item.Item
	CommentCount int `json:"commentCount"`
}

type issuePage struct {
	Items    []listedItem `json:"items"`
	NextPage int          `json:"nextPage"`
}

type pageKey struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Filter Filter `json:"filter"`
	Page   int    `json:"page"`
}

func (c *Client) issuePage(ctx context.Context, f Filter, page int) (*issuePage, error) {
	key := c.cacheKey("issues", pageKey{Owner: c.opts.Owner, Repo: c.opts.Repo, Filter: f, Page: page})
	var cached issuePage
	if c.cacheGet(key, &cached) {
		return &cached, nil
	}

	opts := &gogithub.IssueListByRepoOptions{
		State:       f.State,
		Labels:      f.Labels,
		Assignee:    f.Assignee,
		Milestone:   f.Milestone,
		Sort:        "created",
		Direction:   "asc",
		ListOptions: gogithub.ListOptions{Page: page, PerPage: perPage},
	}

	var out issuePage
	err := retry.Do(ctx, c.opts.Retry, func(ctx context.Context) error {
		issues, resp, err := c.gh.Issues.ListByRepo(ctx, c.opts.Owner, c.opts.Repo, opts)
		c.opts.Metrics.RecordUpstream("issues", statusLabel(resp, err))
		if err != nil {
			return apiError("issues", resp, err)
		}
		out = issuePage{NextPage: resp.NextPage}
		for _, is := range issues {
			if is.IsPullRequest() {
				continue
			}
			out.Items = append(out.Items, listedItem{Item: toItem(is), CommentCount: is.GetComments()})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing issues page %d: %w", page, err)
	}

	c.cacheSet(key, out)
	c.logger.Debug().Int("page", page).Int("items", len(out.Items)).Int("next", out.NextPage).Msg("issue page fetched")
	return &out, nil
}

// attachComments fills Comments for every item, fetching in parallel. Each
// goroutine writes only its own item.
func (c *Client) attachComments(ctx context.Context, items []*item.Item, counts map[int]int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	for _, it := range items {
		if counts[it.ID] == 0 {
			it.Comments = []item.Comment{}
			continue
		}
		g.Go(func() error {
			comments, err := c.comments(gctx, it)
			if err != nil {
				return fmt.Errorf("issue #%d: %w", it.ID, err)
			}
			it.Comments = comments
			return nil
		})
	}
	return g.Wait()
}

type commentsKey struct {
	Owner     string `json:"owner"`
	Repo      string `json:"repo"`
	Number    int    `json:"number"`
	UpdatedAt string `json:"updatedAt"`
}

// comments lists all comments of an issue. The cache key includes the
// issue's update time, so a new comment invalidates it.
func (c *Client) comments(ctx context.Context, it *item.Item) ([]item.Comment, error) {
	key := c.cacheKey("comments", commentsKey{
		Owner:     c.opts.Owner,
		Repo:      c.opts.Repo,
		Number:    it.ID,
		UpdatedAt: it.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	var cached []item.Comment
	if c.cacheGet(key, &cached) {
		return cached, nil
	}

	var out []item.Comment
	opts := &gogithub.IssueListCommentsOptions{ListOptions: gogithub.ListOptions{PerPage: perPage}}
	for page := 1; page != 0; {
		opts.Page = page
		err := retry.Do(ctx, c.opts.Retry, func(ctx context.Context) error {
			list, resp, err := c.gh.Issues.ListComments(ctx, c.opts.Owner, c.opts.Repo, it.ID, opts)
			c.opts.Metrics.RecordUpstream("comments", statusLabel(resp, err))
			if err != nil {
				return apiError("comments", resp, err)
			}
			for _, cm := range list {
				out = append(out, toComment(cm))
			}
			page = resp.NextPage
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing comments: %w", err)
		}
	}
	if out == nil {
		out = []item.Comment{}
	}

	c.cacheSet(key, out)
	return out, nil
}

// cacheKey returns "" when the request cannot be cached.
func (c *Client) cacheKey(namespace string, params any) string {
	if c.opts.Cache == nil {
		return ""
	}
	key, err := cache.Key(namespace, params)
	if err != nil {
		c.logger.Warn().Err(err).Msg("request not cacheable")
		return ""
	}
	return key
}

func (c *Client) cacheGet(key string, v any) bool {
	if c.opts.Cache == nil || key == "" {
		return false
	}
	hit := c.opts.Cache.GetInto(key, v)
	c.opts.Metrics.RecordCache(hit)
	return hit
}

func (c *Client) cacheSet(key string, v any) {
	if c.opts.Cache == nil || key == "" {
		return
	}
	c.opts.Cache.Set(key, v, c.opts.CacheTTL)
}

// ParseRepo splits "owner/name".
func ParseRepo(s string) (owner, repo string, err error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository %q, want owner/name", s)
	}
	return parts[0], parts[1], nil
}
