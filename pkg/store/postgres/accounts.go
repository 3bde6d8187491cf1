package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/narrata/pkg/store"
)

// ─────────────────────────────────────────────────────────────────────────────
// Providers
// ─────────────────────────────────────────────────────────────────────────────

// ListProviders implements [store.ProviderStore].
func (s *Store) ListProviders(ctx context.Context) ([]store.ProviderRecord, error) {
	const q = `
		SELECT id, name, display_name, api_endpoint, chunk_size, is_active, config, created_at, updated_at
		FROM   providers
		ORDER  BY name`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, mapErr("list providers", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.ProviderRecord, error) {
		var p store.ProviderRecord
		err := row.Scan(&p.ID, &p.Name, &p.DisplayName, &p.APIEndpoint, &p.ChunkSize,
			&p.IsActive, &p.Config, &p.CreatedAt, &p.UpdatedAt)
		return p, err
	})
	if err != nil {
		return nil, mapErr("list providers", err)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Users
// ─────────────────────────────────────────────────────────────────────────────

const userColumns = "id, email, password_hash, is_admin, created_at"

// CreateUser implements [store.UserStore].
func (s *Store) CreateUser(ctx context.Context, u store.User) (store.User, error) {
	const q = `
		INSERT INTO users (id, email, password_hash, is_admin)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + userColumns
	return s.queryUser(ctx, "create user", q, store.NewID(), u.Email, u.PasswordHash, u.IsAdmin)
}

// GetUser implements [store.UserStore].
func (s *Store) GetUser(ctx context.Context, id string) (store.User, error) {
	return s.queryUser(ctx, "get user", "SELECT "+userColumns+" FROM users WHERE id = $1", id)
}

// GetUserByEmail implements [store.UserStore].
func (s *Store) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	return s.queryUser(ctx, "get user by email", "SELECT "+userColumns+" FROM users WHERE email = $1", email)
}

// ListUsers implements [store.UserStore].
func (s *Store) ListUsers(ctx context.Context) ([]store.User, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at, email")
	if err != nil {
		return nil, mapErr("list users", err)
	}
	users, err := pgx.CollectRows(rows, scanUser)
	if err != nil {
		return nil, mapErr("list users", err)
	}
	if users == nil {
		users = []store.User{}
	}
	return users, nil
}

// SetAdmin implements [store.UserStore].
func (s *Store) SetAdmin(ctx context.Context, id string, isAdmin bool) (store.User, error) {
	q := "UPDATE users SET is_admin = $2 WHERE id = $1 RETURNING " + userColumns
	return s.queryUser(ctx, "set admin", q, id, isAdmin)
}

// DeleteUser implements [store.UserStore].
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return mapErr("delete user", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: delete user %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) queryUser(ctx context.Context, op, q string, args ...any) (store.User, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return store.User{}, mapErr(op, err)
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if err != nil {
		return store.User{}, mapErr(op, err)
	}
	return u, nil
}

func scanUser(row pgx.CollectableRow) (store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt)
	return u, err
}

// ─────────────────────────────────────────────────────────────────────────────
// Jobs
// ─────────────────────────────────────────────────────────────────────────────

// RecordJob implements [store.JobStore]. A zero CreatedAt becomes now().
func (s *Store) RecordJob(ctx context.Context, j store.Job) (store.Job, error) {
	const q = `
		INSERT INTO jobs (id, user_id, provider_used, characters, chunks, failed_chunks, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
		RETURNING id, user_id, provider_used, characters, chunks, failed_chunks, created_at`

	var created *time.Time
	if !j.CreatedAt.IsZero() {
		created = &j.CreatedAt
	}
	rows, err := s.pool.Query(ctx, q, store.NewID(), j.UserID, j.Provider, j.Characters, j.Chunks, j.FailedChunks, created)
	if err != nil {
		return store.Job{}, mapErr("record job", err)
	}
	out, err := pgx.CollectExactlyOneRow(rows, scanJob)
	if err != nil {
		return store.Job{}, mapErr("record job", err)
	}
	return out, nil
}

// ListJobs implements [store.JobStore].
func (s *Store) ListJobs(ctx context.Context, since time.Time) ([]store.Job, error) {
	const q = `
		SELECT id, user_id, provider_used, characters, chunks, failed_chunks, created_at
		FROM   jobs
		WHERE  created_at >= $1
		ORDER  BY created_at DESC, id`

	rows, err := s.pool.Query(ctx, q, since)
	if err != nil {
		return nil, mapErr("list jobs", err)
	}
	jobs, err := pgx.CollectRows(rows, scanJob)
	if err != nil {
		return nil, mapErr("list jobs", err)
	}
	if jobs == nil {
		jobs = []store.Job{}
	}
	return jobs, nil
}

func scanJob(row pgx.CollectableRow) (store.Job, error) {
	var j store.Job
	err := row.Scan(&j.ID, &j.UserID, &j.Provider, &j.Characters, &j.Chunks, &j.FailedChunks, &j.CreatedAt)
	return j, err
}
