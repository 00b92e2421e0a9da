package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs
// migrations. Use ":memory:" for tests.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// WAL mode for concurrent readers (e.g. runs list during a run).
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger.With("component", "store")}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			source      TEXT NOT NULL,
			dir         TEXT NOT NULL,
			state       TEXT NOT NULL,
			error_kind  TEXT NOT NULL DEFAULT '',
			started_at  TEXT NOT NULL,
			finished_at TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
	`)
	return err
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, source, dir, state, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, run.Source, run.Dir, string(run.State),
		run.Started.Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) FinishRun(ctx context.Context, id string, state RunState, errorKind string) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", id, "state", state)
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, error_kind = ?, finished_at = ? WHERE id = ?`,
		string(state), errorKind, time.Now().Format(time.RFC3339Nano), id)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, source, dir, state, error_kind, started_at, finished_at
		 FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, source, dir, state, error_kind, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LatestRun(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, source, dir, state, error_kind, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT 1`)
	return scanRun(row)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var run Run
	var state, started, finished string
	if err := row.Scan(&run.ID, &run.Name, &run.Source, &run.Dir, &state,
		&run.ErrorKind, &started, &finished); err != nil {
		return nil, err
	}
	run.State = RunState(state)
	if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
		run.Started = t
	}
	if finished != "" {
		if t, err := time.Parse(time.RFC3339Nano, finished); err == nil {
			run.Finished = t
		}
	}
	return &run, nil
}
