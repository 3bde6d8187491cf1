// Package mock provides an in-memory [store.Store] for tests.
//
// Store behaves like a real backend (ids, ordering, sentinel errors) and also
// records every method call. Errs injects failures per method name.
//
// Typical usage:
//
//	st := mock.New()
//	st.Errs["ListJobs"] = errors.New("db down")
//
//	// inject st into the system under test …
//
//	if got := st.CallCount("RecordJob"); got != 1 {
//	    t.Errorf("expected 1 RecordJob call, got %d", got)
//	}
package mock

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/narrata/pkg/store"
)

var _ store.Store = (*Store)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is an in-memory [store.Store]. It is safe for concurrent use.
type Store struct {
	mu sync.Mutex

	// Errs maps a method name to the error it returns. Methods with an entry
	// fail without touching state.
	Errs map[string]error

	// Now is the clock used for timestamps. Default: time.Now.
	Now func() time.Time

	calls     []Call
	voices    []store.Voice
	providers []store.ProviderRecord
	users     []store.User
	jobs      []store.Job
	closed    bool
}

// New returns an empty Store seeded with the built-in providers.
func New() *Store {
	s := &Store{Errs: make(map[string]error), Now: time.Now}
	now := s.Now()
	for _, p := range store.BuiltinProviders {
		p.Config = maps.Clone(p.Config)
		p.CreatedAt, p.UpdatedAt = now, now
		s.providers = append(s.providers, p)
	}
	return s
}

// record appends a call and returns the injected error for method, if any.
// Callers must hold s.mu.
func (s *Store) record(method string, args ...any) error {
	s.calls = append(s.calls, Call{Method: method, Args: args})
	if s.Errs != nil {
		if err := s.Errs[method]; err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Calls returns a copy of every recorded call.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// CallCount returns how many times method was called.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func notFound(op, id string) error {
	return fmt.Errorf("mock store: %s %s: %w", op, id, store.ErrNotFound)
}

// ─────────────────────────────────────────────────────────────────────────────
// Voices
// ─────────────────────────────────────────────────────────────────────────────

// ListVoices implements [store.VoiceStore].
func (s *Store) ListVoices(_ context.Context, provider string) ([]store.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("ListVoices", provider); err != nil {
		return nil, err
	}
	out := []store.Voice{}
	for i := len(s.voices) - 1; i >= 0; i-- {
		if provider == "" || s.voices[i].Provider == provider {
			out = append(out, s.voices[i])
		}
	}
	return out, nil
}

// GetVoice implements [store.VoiceStore].
func (s *Store) GetVoice(_ context.Context, id string) (store.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("GetVoice", id); err != nil {
		return store.Voice{}, err
	}
	i := slices.IndexFunc(s.voices, func(v store.Voice) bool { return v.ID == id })
	if i < 0 {
		return store.Voice{}, notFound("get voice", id)
	}
	return s.voices[i], nil
}

// CreateVoice implements [store.VoiceStore].
func (s *Store) CreateVoice(_ context.Context, v store.Voice) (store.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("CreateVoice", v); err != nil {
		return store.Voice{}, err
	}
	v.ID = store.NewID()
	v.CreatedAt = s.now()
	v.UpdatedAt = v.CreatedAt
	s.voices = append(s.voices, v)
	return v, nil
}

// UpdateVoice implements [store.VoiceStore].
func (s *Store) UpdateVoice(_ context.Context, id string, p store.VoicePatch) (store.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("UpdateVoice", id, p); err != nil {
		return store.Voice{}, err
	}
	i := slices.IndexFunc(s.voices, func(v store.Voice) bool { return v.ID == id })
	if i < 0 {
		return store.Voice{}, notFound("update voice", id)
	}
	p.Apply(&s.voices[i])
	s.voices[i].UpdatedAt = s.now()
	return s.voices[i], nil
}

// DeleteVoice implements [store.VoiceStore].
func (s *Store) DeleteVoice(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("DeleteVoice", id); err != nil {
		return err
	}
	i := slices.IndexFunc(s.voices, func(v store.Voice) bool { return v.ID == id })
	if i < 0 {
		return notFound("delete voice", id)
	}
	s.voices = slices.Delete(s.voices, i, i+1)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Providers
// ─────────────────────────────────────────────────────────────────────────────

// ListProviders implements [store.ProviderStore].
func (s *Store) ListProviders(_ context.Context) ([]store.ProviderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("ListProviders"); err != nil {
		return nil, err
	}
	out := slices.Clone(s.providers)
	slices.SortFunc(out, func(a, b store.ProviderRecord) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Users
// ─────────────────────────────────────────────────────────────────────────────

// CreateUser implements [store.UserStore].
func (s *Store) CreateUser(_ context.Context, u store.User) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("CreateUser", u.Email); err != nil {
		return store.User{}, err
	}
	if slices.ContainsFunc(s.users, func(x store.User) bool { return x.Email == u.Email }) {
		return store.User{}, fmt.Errorf("mock store: create user %s: %w", u.Email, store.ErrConflict)
	}
	u.ID = store.NewID()
	u.CreatedAt = s.now()
	s.users = append(s.users, u)
	return u, nil
}

// GetUser implements [store.UserStore].
func (s *Store) GetUser(_ context.Context, id string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("GetUser", id); err != nil {
		return store.User{}, err
	}
	return s.findUser("get user", func(u store.User) bool { return u.ID == id }, id)
}

// GetUserByEmail implements [store.UserStore].
func (s *Store) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("GetUserByEmail", email); err != nil {
		return store.User{}, err
	}
	return s.findUser("get user by email", func(u store.User) bool { return u.Email == email }, email)
}

func (s *Store) findUser(op string, match func(store.User) bool, key string) (store.User, error) {
	i := slices.IndexFunc(s.users, match)
	if i < 0 {
		return store.User{}, notFound(op, key)
	}
	return s.users[i], nil
}

// ListUsers implements [store.UserStore].
func (s *Store) ListUsers(_ context.Context) ([]store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("ListUsers"); err != nil {
		return nil, err
	}
	return append([]store.User{}, s.users...), nil
}

// SetAdmin implements [store.UserStore].
func (s *Store) SetAdmin(_ context.Context, id string, isAdmin bool) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("SetAdmin", id, isAdmin); err != nil {
		return store.User{}, err
	}
	i := slices.IndexFunc(s.users, func(u store.User) bool { return u.ID == id })
	if i < 0 {
		return store.User{}, notFound("set admin", id)
	}
	s.users[i].IsAdmin = isAdmin
	return s.users[i], nil
}

// DeleteUser implements [store.UserStore].
func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("DeleteUser", id); err != nil {
		return err
	}
	i := slices.IndexFunc(s.users, func(u store.User) bool { return u.ID == id })
	if i < 0 {
		return notFound("delete user", id)
	}
	s.users = slices.Delete(s.users, i, i+1)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Jobs
// ─────────────────────────────────────────────────────────────────────────────

// RecordJob implements [store.JobStore].
func (s *Store) RecordJob(_ context.Context, j store.Job) (store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("RecordJob", j); err != nil {
		return store.Job{}, err
	}
	j.ID = store.NewID()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = s.now()
	}
	s.jobs = append(s.jobs, j)
	return j, nil
}

// ListJobs implements [store.JobStore].
func (s *Store) ListJobs(_ context.Context, since time.Time) ([]store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("ListJobs", since); err != nil {
		return nil, err
	}
	out := []store.Job{}
	for _, j := range s.jobs {
		if !j.CreatedAt.Before(since) {
			out = append(out, j)
		}
	}
	slices.SortStableFunc(out, func(a, b store.Job) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────────────────────────────────────

// Ping implements [store.Store].
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("Ping")
}

// Close implements [store.Store].
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.record("Close")
}
