package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// migrations[i] upgrades the schema from version i to i+1.
var migrations = []string{
	// 1: runs
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		collection  TEXT NOT NULL,
		kind        TEXT NOT NULL,
		status      TEXT NOT NULL,
		started_at  INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		fetched     INTEGER NOT NULL DEFAULT 0,
		new         INTEGER NOT NULL DEFAULT 0,
		updated     INTEGER NOT NULL DEFAULT 0,
		unchanged   INTEGER NOT NULL DEFAULT 0,
		deleted     INTEGER NOT NULL DEFAULT 0,
		moved       INTEGER NOT NULL DEFAULT 0,
		restored    INTEGER NOT NULL DEFAULT 0,
		failed      INTEGER NOT NULL DEFAULT 0,
		unresolved  INTEGER NOT NULL DEFAULT 0,
		error       TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_collection ON runs(collection, started_at);`,

	// 2: moves performed by a run
	`CREATE TABLE IF NOT EXISTS run_moves (
		run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		item_id   INTEGER NOT NULL,
		from_path TEXT NOT NULL,
		to_path   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_run_moves_run ON run_moves(run_id);`,
}

// SchemaVersion is the version New migrates to.
var SchemaVersion = len(migrations)

// migrate applies every migration above the recorded schema_version, each
// in its own transaction together with the version bump.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating meta table: %w", err)
	}

	current, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if current > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than supported %d", current, len(migrations))
	}

	for v := current; v < len(migrations); v++ {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', ?)`, strconv.Itoa(v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording schema version %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration v%d: %w", v+1, err)
		}
		s.logger.Debug().Int("version", v+1).Msg("schema migrated")
	}
	return nil
}

func (s *Store) schemaVersion() (int, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid schema version %q", raw)
	}
	return v, nil
}
