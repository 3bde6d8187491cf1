// Package sqlite provides an embedded SQLite implementation of [store.Store]
// using the pure-Go modernc.org/sqlite driver. It needs no external database
// and suits single-node deployments and tests.
//
// Timestamps are stored as Unix milliseconds.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/MrWong99/narrata/pkg/store"
)

var _ store.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS ai_voices (
    id          TEXT PRIMARY KEY,
    voice_id    TEXT NOT NULL,
    name        TEXT NOT NULL,
    provider    TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ai_voices_provider ON ai_voices(provider);

CREATE TABLE IF NOT EXISTS providers (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL,
    api_endpoint TEXT NOT NULL DEFAULT '',
    chunk_size   INTEGER NOT NULL,
    is_active    INTEGER NOT NULL DEFAULT 1,
    config       TEXT NOT NULL DEFAULT '{}',
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    is_admin      INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    provider_used TEXT NOT NULL,
    characters    INTEGER NOT NULL DEFAULT 0,
    chunks        INTEGER NOT NULL DEFAULT 0,
    failed_chunks INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
`

// Store is the SQLite-backed [store.Store].
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for row timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.clock = now }
}

// Open opens (creating if needed) the database file at path, applies the
// schema and seeds the built-in providers.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}

	s := &Store{db: db, clock: time.Now}
	for _, o := range opts {
		o(s)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite store: migrate: %w", err)
	}
	now := s.now()
	for _, p := range store.BuiltinProviders {
		cfg, err := json.Marshal(p.Config)
		if err != nil {
			return fmt.Errorf("sqlite store: seed provider %s: %w", p.Name, err)
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO providers (id, name, display_name, api_endpoint, chunk_size, is_active, config, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO NOTHING`,
			p.ID, p.Name, p.DisplayName, p.APIEndpoint, p.ChunkSize, p.IsActive, string(cfg), now, now)
		if err != nil {
			return fmt.Errorf("sqlite store: seed provider %s: %w", p.Name, err)
		}
	}
	return nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close implements [store.Store].
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) now() int64 { return s.clock().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func mapErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite store: %s: %w", op, store.ErrNotFound)
	}
	var se *sqlite.Error
	if errors.As(err, &se) && (se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY) {
		return fmt.Errorf("sqlite store: %s: %w", op, store.ErrConflict)
	}
	return fmt.Errorf("sqlite store: %s: %w", op, err)
}

func mustAffect(op, id string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(op, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite store: %s %s: %w", op, id, store.ErrNotFound)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
