// Package postgres provides a PostgreSQL-backed implementation of
// [store.Store].
//
// All tables share a single [pgxpool.Pool]. [Migrate] creates the schema and
// seeds the built-in providers; it runs automatically in [NewStore].
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
//
//	v, _ := st.CreateVoice(ctx, store.Voice{VoiceID: "abc", Name: "Narrator", Provider: "fishaudio"})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/narrata/pkg/store"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlVoices = `
CREATE TABLE IF NOT EXISTS ai_voices (
    id           TEXT         PRIMARY KEY,
    voice_id     TEXT         NOT NULL,
    name         TEXT         NOT NULL,
    provider     TEXT         NOT NULL,
    description  TEXT         NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ai_voices_provider
    ON ai_voices (provider);

CREATE INDEX IF NOT EXISTS idx_ai_voices_created_at
    ON ai_voices (created_at DESC);
`

const ddlProviders = `
CREATE TABLE IF NOT EXISTS providers (
    id            TEXT         PRIMARY KEY,
    name          TEXT         NOT NULL UNIQUE,
    display_name  TEXT         NOT NULL,
    api_endpoint  TEXT         NOT NULL DEFAULT '',
    chunk_size    INTEGER      NOT NULL,
    is_active     BOOLEAN      NOT NULL DEFAULT true,
    config        JSONB        NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlUsers = `
CREATE TABLE IF NOT EXISTS users (
    id             TEXT         PRIMARY KEY,
    email          TEXT         NOT NULL UNIQUE,
    password_hash  TEXT         NOT NULL,
    is_admin       BOOLEAN      NOT NULL DEFAULT false,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlJobs = `
CREATE TABLE IF NOT EXISTS jobs (
    id             TEXT         PRIMARY KEY,
    user_id        TEXT         NOT NULL,
    provider_used  TEXT         NOT NULL,
    characters     INTEGER      NOT NULL DEFAULT 0,
    chunks         INTEGER      NOT NULL DEFAULT 0,
    failed_chunks  INTEGER      NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_created_at
    ON jobs (created_at DESC);

CREATE INDEX IF NOT EXISTS idx_jobs_user_id
    ON jobs (user_id);
`

const seedProvider = `
INSERT INTO providers (id, name, display_name, api_endpoint, chunk_size, is_active, config)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (name) DO NOTHING`

// Migrate creates or ensures all required tables exist and seeds the
// built-in providers. It is idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlVoices, ddlProviders, ddlUsers, ddlJobs} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	for _, p := range store.BuiltinProviders {
		if _, err := pool.Exec(ctx, seedProvider,
			p.ID, p.Name, p.DisplayName, p.APIEndpoint, p.ChunkSize, p.IsActive, p.Config,
		); err != nil {
			return fmt.Errorf("postgres migrate: seed provider %s: %w", p.Name, err)
		}
	}
	return nil
}
