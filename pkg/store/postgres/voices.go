package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/narrata/pkg/store"
)

const voiceColumns = "id, voice_id, name, provider, description, created_at, updated_at"

// ListVoices implements [store.VoiceStore].
func (s *Store) ListVoices(ctx context.Context, provider string) ([]store.Voice, error) {
	q := "SELECT " + voiceColumns + " FROM ai_voices"
	var args []any
	if provider != "" {
		q += " WHERE provider = $1"
		args = append(args, provider)
	}
	q += " ORDER BY created_at DESC, id"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapErr("list voices", err)
	}
	voices, err := pgx.CollectRows(rows, scanVoice)
	if err != nil {
		return nil, mapErr("list voices", err)
	}
	if voices == nil {
		voices = []store.Voice{}
	}
	return voices, nil
}

// GetVoice implements [store.VoiceStore].
func (s *Store) GetVoice(ctx context.Context, id string) (store.Voice, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+voiceColumns+" FROM ai_voices WHERE id = $1", id)
	if err != nil {
		return store.Voice{}, mapErr("get voice", err)
	}
	v, err := pgx.CollectExactlyOneRow(rows, scanVoice)
	if err != nil {
		return store.Voice{}, mapErr("get voice", err)
	}
	return v, nil
}

// CreateVoice implements [store.VoiceStore].
func (s *Store) CreateVoice(ctx context.Context, v store.Voice) (store.Voice, error) {
	const q = `
		INSERT INTO ai_voices (id, voice_id, name, provider, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + voiceColumns

	rows, err := s.pool.Query(ctx, q, store.NewID(), v.VoiceID, v.Name, v.Provider, v.Description)
	if err != nil {
		return store.Voice{}, mapErr("create voice", err)
	}
	out, err := pgx.CollectExactlyOneRow(rows, scanVoice)
	if err != nil {
		return store.Voice{}, mapErr("create voice", err)
	}
	return out, nil
}

// UpdateVoice implements [store.VoiceStore].
func (s *Store) UpdateVoice(ctx context.Context, id string, p store.VoicePatch) (store.Voice, error) {
	args := []any{id} // $1 = row id
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sets := []string{"updated_at = now()"}
	if p.VoiceID != nil {
		sets = append(sets, "voice_id = "+next(*p.VoiceID))
	}
	if p.Name != nil {
		sets = append(sets, "name = "+next(*p.Name))
	}
	if p.Provider != nil {
		sets = append(sets, "provider = "+next(*p.Provider))
	}
	if p.Description != nil {
		sets = append(sets, "description = "+next(*p.Description))
	}

	q := "UPDATE ai_voices SET " + strings.Join(sets, ", ") +
		" WHERE id = $1 RETURNING " + voiceColumns
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return store.Voice{}, mapErr("update voice", err)
	}
	v, err := pgx.CollectExactlyOneRow(rows, scanVoice)
	if err != nil {
		return store.Voice{}, mapErr("update voice", err)
	}
	return v, nil
}

// DeleteVoice implements [store.VoiceStore].
func (s *Store) DeleteVoice(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM ai_voices WHERE id = $1", id)
	if err != nil {
		return mapErr("delete voice", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: delete voice %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func scanVoice(row pgx.CollectableRow) (store.Voice, error) {
	var v store.Voice
	err := row.Scan(&v.ID, &v.VoiceID, &v.Name, &v.Provider, &v.Description, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}
