// Package store defines the persistence layer of Narrata: custom voices, the
// provider registry table, user accounts and the job log that feeds usage
// statistics.
//
// Two backends implement [Store]: postgres (pgx connection pool) and sqlite
// (embedded, pure Go). Both run their migrations on open and seed the
// built-in providers.
//
// Every implementation must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a row addressed by id does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a unique column (e.g. a user's email)
	// already holds the value.
	ErrConflict = errors.New("store: conflict")
)

// ─────────────────────────────────────────────────────────────────────────────
// Interfaces
// ─────────────────────────────────────────────────────────────────────────────

// VoiceStore manages the custom voice catalogue.
type VoiceStore interface {
	// ListVoices returns custom voices newest first. A non-empty provider
	// restricts the list to that provider.
	ListVoices(ctx context.Context, provider string) ([]Voice, error)

	// GetVoice returns the voice with the given row id.
	GetVoice(ctx context.Context, id string) (Voice, error)

	// CreateVoice inserts v. ID and timestamps are assigned by the store.
	CreateVoice(ctx context.Context, v Voice) (Voice, error)

	// UpdateVoice applies the non-nil fields of p and returns the new row.
	UpdateVoice(ctx context.Context, id string, p VoicePatch) (Voice, error)

	// DeleteVoice removes a voice. Deleting a missing row returns ErrNotFound.
	DeleteVoice(ctx context.Context, id string) error
}

// ProviderStore reads the provider registry table.
type ProviderStore interface {
	ListProviders(ctx context.Context) ([]ProviderRecord, error)
}

// UserStore manages accounts.
type UserStore interface {
	// CreateUser inserts u. A duplicate email returns ErrConflict.
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)

	// ListUsers returns all accounts, oldest first.
	ListUsers(ctx context.Context) ([]User, error)
	SetAdmin(ctx context.Context, id string, isAdmin bool) (User, error)
	DeleteUser(ctx context.Context, id string) error
}

// JobStore is the append-only generation job log.
type JobStore interface {
	RecordJob(ctx context.Context, j Job) (Job, error)

	// ListJobs returns jobs created at or after since, newest first. A zero
	// since returns every job.
	ListJobs(ctx context.Context, since time.Time) ([]Job, error)
}

// Store aggregates every persistence concern plus lifecycle hooks.
type Store interface {
	VoiceStore
	ProviderStore
	UserStore
	JobStore

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// NewID returns a fresh random row identifier.
func NewID() string { return uuid.NewString() }
