package store

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "state", "history.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew_CreatesDB(t *testing.T) {
	store := newTestStore(t)

	for _, table := range []string{"runs", "run_moves", "meta"} {
		var count int
		err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}

	var version string
	require.NoError(t, store.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version))
	assert.Equal(t, strconv.Itoa(SchemaVersion), version)
}

func TestNew_ReopenKeepsSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s1, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s1.RecordRun(context.Background(), &Run{Collection: "a/b", Kind: KindSync, Status: StatusOK}))
	require.NoError(t, s1.Close())

	s2, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	defer s2.Close()

	var version string
	require.NoError(t, s2.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version))
	assert.Equal(t, "2", version)

	runs, err := s2.RecentRuns(context.Background(), "a/b", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRecordRun_AndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	run := &Run{
		Collection: "acme/widgets",
		Kind:       KindSync,
		Status:     StatusOK,
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Fetched:    10,
		New:        2,
		Updated:    1,
		Unchanged:  7,
		Moved:      1,
		Moves:      []RunMove{{ItemID: 42, From: "blocked/42-x.md", To: "done/42-x.md"}},
	}
	require.NoError(t, store.RecordRun(ctx, run))
	assert.NotEmpty(t, run.ID)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", got.Collection)
	assert.Equal(t, 10, got.Fetched)
	assert.Equal(t, 7, got.Unchanged)
	assert.Equal(t, 1500*time.Millisecond, got.Duration())
	assert.True(t, got.StartedAt.Equal(start))
	assert.Empty(t, got.Error)
	assert.Equal(t, run.Moves, got.Moves)
}

func TestGetRun_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRecentRuns_OrderAndFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, coll := range []string{"a/one", "b/two", "a/one", "a/one"} {
		require.NoError(t, store.RecordRun(ctx, &Run{
			Collection: coll,
			Kind:       KindSync,
			Status:     StatusOK,
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			New:        i,
		}))
	}

	runs, err := store.RecentRuns(ctx, "a/one", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 3, runs[0].New)
	assert.Equal(t, 2, runs[1].New)

	all, err := store.RecentRuns(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestLastSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.LastSuccess(ctx, "acme/widgets")
	assert.ErrorIs(t, err, ErrRunNotFound)

	require.NoError(t, store.RecordRun(ctx, &Run{Collection: "acme/widgets", Kind: KindSync, Status: StatusOK, StartedAt: base, New: 1}))
	require.NoError(t, store.RecordRun(ctx, &Run{Collection: "acme/widgets", Kind: KindSync, Status: StatusFailed, StartedAt: base.Add(time.Hour), Error: "boom"}))
	require.NoError(t, store.RecordRun(ctx, &Run{Collection: "acme/widgets", Kind: KindReorganize, Status: StatusOK, StartedAt: base.Add(2 * time.Hour)}))

	last, err := store.LastSuccess(ctx, "acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, 1, last.New)
}

func TestRunRetention(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	old := &Run{Collection: "c", Kind: KindSync, Status: StatusOK, StartedAt: now.Add(-40 * 24 * time.Hour),
		Moves: []RunMove{{ItemID: 1, From: "todo/1.md", To: "done/1.md"}}}
	fresh := &Run{Collection: "c", Kind: KindSync, Status: StatusOK, StartedAt: now.Add(-time.Hour)}
	require.NoError(t, store.RecordRun(ctx, old))
	require.NoError(t, store.RecordRun(ctx, fresh))

	n, err := store.RunRetention(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.GetRun(ctx, old.ID)
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = store.GetRun(ctx, fresh.ID)
	assert.NoError(t, err)

	var moves int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM run_moves").Scan(&moves))
	assert.Zero(t, moves)
}

func TestSizeBytes(t *testing.T) {
	store := newTestStore(t)
	size, err := store.SizeBytes(context.Background())
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
}

func TestNew_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s1, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	_, err = s1.db.Exec(`UPDATE meta SET value = '99' WHERE key = 'schema_version'`)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	_, err = New(path, zerolog.Nop())
	assert.ErrorContains(t, err, "newer than supported")
}

func TestClose_Twice(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "history.db"), zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
