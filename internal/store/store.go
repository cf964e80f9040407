// Package store archives completed runs in a single SQLite file. Rows hold
// the run payload as a JSON blob next to a small metadata blob, so listings
// never decode the (large) posterior draws.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"hierfit/pkg/types"
)

// ErrNotFound is returned when no run with the requested id exists.
var ErrNotFound = errors.New("run not found")

// Store is a SQLite-backed run archive. Safe for concurrent use; SQLite
// serializes writers internally.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the archive at path, creating parent directories
// as needed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: empty path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		meta BLOB NOT NULL,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// SaveRun upserts a completed run.
func (s *Store) SaveRun(ctx context.Context, run *types.Run) error {
	if run.Meta.ID == "" {
		return fmt.Errorf("store: run has no id")
	}
	meta, err := json.Marshal(run.Meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs(id, created_at, meta, payload) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET created_at=excluded.created_at,
		 meta=excluded.meta, payload=excluded.payload`,
		run.Meta.ID, run.Meta.CreatedAt.UTC().Format(time.RFC3339Nano), meta, payload)
	if err != nil {
		return fmt.Errorf("upsert run %s: %w", run.Meta.ID, err)
	}
	return nil
}

// ListRuns returns run metadata, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]types.RunMeta, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT meta FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []types.RunMeta
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var m types.RunMeta
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode meta: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetRun loads a full run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*types.Run, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select run %s: %w", id, err)
	}
	var run types.Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &run, nil
}
