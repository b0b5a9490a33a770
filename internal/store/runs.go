package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run kinds.
const (
	KindSync       = "sync"
	KindReorganize = "reorganize"
	KindReset      = "reset"
)

// Run statuses.
const (
	StatusOK        = "ok"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded engine operation.
type Run struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Fetched    int       `json:"fetched"`
	New        int       `json:"new"`
	Updated    int       `json:"updated"`
	Unchanged  int       `json:"unchanged"`
	Deleted    int       `json:"deleted"`
	Moved      int       `json:"moved"`
	Restored   int       `json:"restored"`
	Failed     int       `json:"failed"`
	Unresolved int       `json:"unresolved"`
	Error      string    `json:"error,omitempty"`
	Moves      []RunMove `json:"moves,omitempty"`
}

// RunMove is a relocation performed during a run.
type RunMove struct {
	ItemID int    `json:"itemId"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// Duration is how long the run took.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RecordRun inserts a run and its moves. An empty ID is filled in.
func (s *Store) RecordRun(ctx context.Context, r *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = s.now()
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = r.StartedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO runs (
		id, collection, kind, status, started_at, finished_at, fetched,
		new, updated, unchanged, deleted, moved, restored, failed, unresolved, error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.Collection, r.Kind, r.Status,
		r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(), r.Fetched,
		r.New, r.Updated, r.Unchanged, r.Deleted, r.Moved, r.Restored, r.Failed, r.Unresolved,
		sql.NullString{String: r.Error, Valid: r.Error != ""},
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	for _, mv := range r.Moves {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_moves (run_id, item_id, from_path, to_path) VALUES (?, ?, ?, ?)`,
			r.ID, mv.ItemID, mv.From, mv.To,
		); err != nil {
			return fmt.Errorf("failed to save run move: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const runColumns = `id, collection, kind, status, started_at, finished_at, fetched,
	new, updated, unchanged, deleted, moved, restored, failed, unresolved, error`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	r := &Run{}
	var started, finished int64
	var errMsg sql.NullString
	err := row.Scan(
		&r.ID, &r.Collection, &r.Kind, &r.Status, &started, &finished, &r.Fetched,
		&r.New, &r.Updated, &r.Unchanged, &r.Deleted, &r.Moved, &r.Restored, &r.Failed, &r.Unresolved,
		&errMsg,
	)
	if err != nil {
		return nil, err
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	r.FinishedAt = time.UnixMilli(finished).UTC()
	r.Error = errMsg.String
	return r, nil
}

// GetRun returns a run with its moves.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, from_path, to_path FROM run_moves WHERE run_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get run moves: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mv RunMove
		if err := rows.Scan(&mv.ItemID, &mv.From, &mv.To); err != nil {
			return nil, fmt.Errorf("failed to scan run move: %w", err)
		}
		r.Moves = append(r.Moves, mv)
	}
	return r, rows.Err()
}

// RecentRuns returns up to limit runs for collection, newest first. An
// empty collection matches all.
func (s *Store) RecentRuns(ctx context.Context, collection string, limit int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	args := []any{}
	if collection != "" {
		query += ` WHERE collection = ?`
		args = append(args, collection)
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LastSuccess returns the newest successful sync of collection.
func (s *Store) LastSuccess(ctx context.Context, collection string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs
		WHERE collection = ? AND kind = ? AND status = ?
		ORDER BY started_at DESC, rowid DESC LIMIT 1`,
		collection, KindSync, StatusOK,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last run: %w", err)
	}
	return r, nil
}
