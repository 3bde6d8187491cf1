package sqlite

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/MrWong99/narrata/pkg/store"
)

// ---- voices ----

const voiceColumns = "id, voice_id, name, provider, description, created_at, updated_at"

func scanVoice(sc scanner) (store.Voice, error) {
	var (
		v                store.Voice
		created, updated int64
	)
	if err := sc.Scan(&v.ID, &v.VoiceID, &v.Name, &v.Provider, &v.Description, &created, &updated); err != nil {
		return store.Voice{}, err
	}
	v.CreatedAt, v.UpdatedAt = fromMillis(created), fromMillis(updated)
	return v, nil
}

// ListVoices implements [store.VoiceStore].
func (s *Store) ListVoices(ctx context.Context, provider string) ([]store.Voice, error) {
	q := "SELECT " + voiceColumns + " FROM ai_voices"
	var args []any
	if provider != "" {
		q += " WHERE provider = ?"
		args = append(args, provider)
	}
	q += " ORDER BY created_at DESC, rowid DESC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr("list voices", err)
	}
	defer rows.Close()

	out := []store.Voice{}
	for rows.Next() {
		v, err := scanVoice(rows)
		if err != nil {
			return nil, mapErr("list voices", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list voices", err)
	}
	return out, nil
}

// GetVoice implements [store.VoiceStore].
func (s *Store) GetVoice(ctx context.Context, id string) (store.Voice, error) {
	v, err := scanVoice(s.db.QueryRowContext(ctx, "SELECT "+voiceColumns+" FROM ai_voices WHERE id = ?", id))
	if err != nil {
		return store.Voice{}, mapErr("get voice", err)
	}
	return v, nil
}

// CreateVoice implements [store.VoiceStore].
func (s *Store) CreateVoice(ctx context.Context, v store.Voice) (store.Voice, error) {
	now := s.now()
	id := store.NewID()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO ai_voices ("+voiceColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		id, v.VoiceID, v.Name, v.Provider, v.Description, now, now)
	if err != nil {
		return store.Voice{}, mapErr("create voice", err)
	}
	return s.GetVoice(ctx, id)
}

// UpdateVoice implements [store.VoiceStore].
func (s *Store) UpdateVoice(ctx context.Context, id string, p store.VoicePatch) (store.Voice, error) {
	sets := []string{"updated_at = ?"}
	args := []any{s.now()}
	add := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			args = append(args, *v)
		}
	}
	add("voice_id", p.VoiceID)
	add("name", p.Name)
	add("provider", p.Provider)
	add("description", p.Description)
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE ai_voices SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return store.Voice{}, mapErr("update voice", err)
	}
	if err := mustAffect("update voice", id, res); err != nil {
		return store.Voice{}, err
	}
	return s.GetVoice(ctx, id)
}

// DeleteVoice implements [store.VoiceStore].
func (s *Store) DeleteVoice(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM ai_voices WHERE id = ?", id)
	if err != nil {
		return mapErr("delete voice", err)
	}
	return mustAffect("delete voice", id, res)
}

// ---- providers ----

// ListProviders implements [store.ProviderStore].
func (s *Store) ListProviders(ctx context.Context) ([]store.ProviderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, display_name, api_endpoint, chunk_size, is_active, config, created_at, updated_at
		FROM providers ORDER BY name`)
	if err != nil {
		return nil, mapErr("list providers", err)
	}
	defer rows.Close()

	out := []store.ProviderRecord{}
	for rows.Next() {
		var (
			p                store.ProviderRecord
			cfg              string
			created, updated int64
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.DisplayName, &p.APIEndpoint, &p.ChunkSize,
			&p.IsActive, &cfg, &created, &updated); err != nil {
			return nil, mapErr("list providers", err)
		}
		if err := json.Unmarshal([]byte(cfg), &p.Config); err != nil {
			return nil, mapErr("list providers: decode config", err)
		}
		p.CreatedAt, p.UpdatedAt = fromMillis(created), fromMillis(updated)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list providers", err)
	}
	return out, nil
}

// ---- users ----

const userColumns = "id, email, password_hash, is_admin, created_at"

func scanUser(sc scanner) (store.User, error) {
	var (
		u       store.User
		created int64
	)
	if err := sc.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsAdmin, &created); err != nil {
		return store.User{}, err
	}
	u.CreatedAt = fromMillis(created)
	return u, nil
}

// CreateUser implements [store.UserStore].
func (s *Store) CreateUser(ctx context.Context, u store.User) (store.User, error) {
	id := store.NewID()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?)",
		id, u.Email, u.PasswordHash, u.IsAdmin, s.now())
	if err != nil {
		return store.User{}, mapErr("create user", err)
	}
	return s.GetUser(ctx, id)
}

// GetUser implements [store.UserStore].
func (s *Store) GetUser(ctx context.Context, id string) (store.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if err != nil {
		return store.User{}, mapErr("get user", err)
	}
	return u, nil
}

// GetUserByEmail implements [store.UserStore].
func (s *Store) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email))
	if err != nil {
		return store.User{}, mapErr("get user by email", err)
	}
	return u, nil
}

// ListUsers implements [store.UserStore].
func (s *Store) ListUsers(ctx context.Context) ([]store.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at, email")
	if err != nil {
		return nil, mapErr("list users", err)
	}
	defer rows.Close()

	out := []store.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, mapErr("list users", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list users", err)
	}
	return out, nil
}

// SetAdmin implements [store.UserStore].
func (s *Store) SetAdmin(ctx context.Context, id string, isAdmin bool) (store.User, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET is_admin = ? WHERE id = ?", isAdmin, id)
	if err != nil {
		return store.User{}, mapErr("set admin", err)
	}
	if err := mustAffect("set admin", id, res); err != nil {
		return store.User{}, err
	}
	return s.GetUser(ctx, id)
}

// DeleteUser implements [store.UserStore].
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return mapErr("delete user", err)
	}
	return mustAffect("delete user", id, res)
}

// ---- jobs ----

// RecordJob implements [store.JobStore]. A zero CreatedAt is stamped with the
// store clock.
func (s *Store) RecordJob(ctx context.Context, j store.Job) (store.Job, error) {
	j.ID = store.NewID()
	created := s.now()
	if !j.CreatedAt.IsZero() {
		created = j.CreatedAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, user_id, provider_used, characters, chunks, failed_chunks, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.UserID, j.Provider, j.Characters, j.Chunks, j.FailedChunks, created)
	if err != nil {
		return store.Job{}, mapErr("record job", err)
	}
	j.CreatedAt = fromMillis(created)
	return j, nil
}

// ListJobs implements [store.JobStore].
func (s *Store) ListJobs(ctx context.Context, since time.Time) ([]store.Job, error) {
	var from int64
	if !since.IsZero() {
		from = since.UnixMilli()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, provider_used, characters, chunks, failed_chunks, created_at
		FROM jobs WHERE created_at >= ?
		ORDER BY created_at DESC, rowid DESC`, from)
	if err != nil {
		return nil, mapErr("list jobs", err)
	}
	defer rows.Close()

	out := []store.Job{}
	for rows.Next() {
		var (
			j       store.Job
			created int64
		)
		if err := rows.Scan(&j.ID, &j.UserID, &j.Provider, &j.Characters, &j.Chunks, &j.FailedChunks, &created); err != nil {
			return nil, mapErr("list jobs", err)
		}
		j.CreatedAt = fromMillis(created)
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list jobs", err)
	}
	return out, nil
}
