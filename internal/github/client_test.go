package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/issuemirror/internal/cache"
	perrors "github.com/p-blackswan/issuemirror/internal/errors"
	"github.com/p-blackswan/issuemirror/internal/item"
	"github.com/p-blackswan/issuemirror/internal/metrics"
	"github.com/p-blackswan/issuemirror/internal/retry"
)

var fastRetry = retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

// fakeAPI serves a two-page issue listing for acme/widgets under the
// Enterprise /api/v3 prefix.
type fakeAPI struct {
	issueCalls   atomic.Int32
	commentCalls atomic.Int32
	failComments atomic.Int32 // respond 502 this many times first
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		f.issueCalls.Add(1)
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[
				{"number": 2, "title": "Closed one", "state": "closed", "comments": 0,
				 "updated_at": "2024-05-02T10:00:00Z", "created_at": "2024-05-01T10:00:00Z"}
			]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<http://%s/api/v3/repos/acme/widgets/issues?page=2>; rel="next"`, r.Host))
		fmt.Fprint(w, `[
			{"number": 1, "title": "Login broken", "state": "open", "comments": 2,
			 "body": "See ![trace](https://github.com/user-attachments/assets/abc) and [docs](https://example.com/docs)",
			 "labels": [{"name": "blocked"}, {"name": "bug"}],
			 "assignees": [{"login": "dana"}],
			 "milestone": {"number": 3, "title": "v1.0"},
			 "user": {"login": "sam"},
			 "html_url": "https://github.com/acme/widgets/issues/1",
			 "updated_at": "2024-05-03T10:00:00Z", "created_at": "2024-05-01T09:00:00Z"},
			{"number": 3, "title": "A pull request", "state": "open",
			 "pull_request": {"url": "https://api.github.com/repos/acme/widgets/pulls/3"},
			 "updated_at": "2024-05-03T10:00:00Z"}
		]`)
	})
	mux.HandleFunc("/api/v3/repos/acme/widgets/issues/1/comments", func(w http.ResponseWriter, r *http.Request) {
		f.commentCalls.Add(1)
		if f.failComments.Load() > 0 {
			f.failComments.Add(-1)
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"id": 11, "body": "first", "user": {"login": "dana"}, "updated_at": "2024-05-02T00:00:00Z"},
			{"id": 12, "body": "second", "user": {"login": "sam"}, "updated_at": "2024-05-03T00:00:00Z"}
		]`)
	})
	return mux
}

func newTestClient(t *testing.T, api *fakeAPI, mutate func(*Options)) *Client {
	t.Helper()
	server := httptest.NewServer(api.handler(t))
	t.Cleanup(server.Close)

	opts := Options{
		Owner:           "acme",
		Repo:            "widgets",
		Token:           "ghp_test",
		BaseURL:         server.URL,
		IncludeComments: true,
		Retry:           fastRetry,
		Metrics:         metrics.New(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(opts, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func byID(items []*item.Item) map[int]*item.Item {
	return item.Index(items)
}

func TestFetch_PaginatesAndSkipsPullRequests(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api, nil)

	items, err := c.Fetch(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, items, 2)

	got := byID(items)
	require.Contains(t, got, 1)
	require.Contains(t, got, 2)
	assert.NotContains(t, got, 3)
	assert.Equal(t, int32(2), api.issueCalls.Load())

	one := got[1]
	assert.Equal(t, "Login broken", one.Title)
	assert.Equal(t, item.StateOpen, one.State)
	assert.Equal(t, []string{"blocked", "bug"}, one.Labels)
	assert.Equal(t, []string{"dana"}, one.Assignees)
	assert.Equal(t, "v1.0", one.MilestoneTitle())
	assert.Equal(t, "sam", one.Author)
	assert.Equal(t, time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC), one.UpdatedAt.UTC())
	assert.Equal(t, []item.Attachment{{Name: "trace", URL: "https://github.com/user-attachments/assets/abc"}}, one.Attachments)

	require.Len(t, one.Comments, 2)
	assert.Equal(t, int64(11), one.Comments[0].ID)
	assert.Equal(t, "dana", one.Comments[0].Author)

	assert.NotNil(t, got[2].Comments, "issues without comments are not queried but marked fetched")
	assert.Empty(t, got[2].Comments)
	assert.Equal(t, int32(1), api.commentCalls.Load())
}

func TestFetch_WithoutComments(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api, func(o *Options) { o.IncludeComments = false })

	items, err := c.Fetch(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Zero(t, api.commentCalls.Load())
	assert.Nil(t, byID(items)[1].Comments)
}

func TestFetch_ServedFromCache(t *testing.T) {
	api := &fakeAPI{}
	store := cache.New(t.TempDir(), cache.Options{MaxEntries: 50}, zerolog.Nop())
	c := newTestClient(t, api, func(o *Options) {
		o.Cache = store
		o.CacheTTL = time.Minute
	})

	first, err := c.Fetch(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, store.Len(), "two issue pages and one comment list")

	second, err := c.Fetch(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), api.issueCalls.Load(), "no new upstream calls")
	assert.Equal(t, int32(1), api.commentCalls.Load())

	require.Len(t, second, len(first))
	assert.Equal(t, byID(first)[1].Comments, byID(second)[1].Comments)
	assert.Equal(t, byID(first)[1].Labels, byID(second)[1].Labels)
}

func TestFetch_RetriesTransientFailures(t *testing.T) {
	api := &fakeAPI{}
	api.failComments.Store(2)
	c := newTestClient(t, api, nil)

	items, err := c.Fetch(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, byID(items)[1].Comments, 2)
	assert.Equal(t, int32(3), api.commentCalls.Load())
}

func TestFetch_GivesUpAfterMaxAttempts(t *testing.T) {
	api := &fakeAPI{}
	api.failComments.Store(10)
	c := newTestClient(t, api, nil)

	_, err := c.Fetch(context.Background(), Filter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrUnavailable)
	assert.Equal(t, int32(fastRetry.MaxAttempts), api.commentCalls.Load())
}

func TestFetch_NotFoundIsNotRetried(t *testing.T) {
	calls := atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"message": "Not Found"})
	}))
	defer server.Close()

	c, err := New(Options{Owner: "acme", Repo: "gone", BaseURL: server.URL, Retry: fastRetry}, zerolog.Nop())
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), Filter{})
	assert.ErrorIs(t, err, perrors.ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNew_RequiresRepo(t *testing.T) {
	_, err := New(Options{Owner: "acme"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestParseRepo(t *testing.T) {
	owner, repo, err := ParseRepo("acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", repo)

	for _, bad := range []string{"", "acme", "acme/", "/widgets", "a/b/c"} {
		_, _, err := ParseRepo(bad)
		assert.Error(t, err, bad)
	}
}

func TestInvalidate_RefetchesPages(t *testing.T) {
	api := &fakeAPI{}
	store := cache.New(t.TempDir(), cache.Options{MaxEntries: 50}, zerolog.Nop())
	c := newTestClient(t, api, func(o *Options) {
		o.Cache = store
		o.CacheTTL = time.Minute
	})

	_, err := c.Fetch(context.Background(), Filter{})
	require.NoError(t, err)
	c.Invalidate(Filter{})
	assert.Equal(t, 1, store.Len(), "only the comment list survives")

	_, err = c.Fetch(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, int32(4), api.issueCalls.Load())
	assert.Equal(t, int32(1), api.commentCalls.Load(), "comments still cached")
}
