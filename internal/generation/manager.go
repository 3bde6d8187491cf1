// Package generation keeps server-side generation sessions. Each session is a
// [batch.Session] driven by a shared [batch.Orchestrator] on a background
// goroutine; clients poll or subscribe to its snapshots, pause and resume it,
// and download the audio it produced.
//
// Sessions live in memory only. Idle sessions are evicted after a TTL and
// nothing survives a restart.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/narrata/internal/batch"
	"github.com/MrWong99/narrata/internal/chunker"
	"github.com/MrWong99/narrata/internal/observe"
	"github.com/MrWong99/narrata/internal/synth"
	"github.com/MrWong99/narrata/pkg/provider/tts"
	"github.com/MrWong99/narrata/pkg/store"
)

const (
	// DefaultSessionTTL is how long an idle session is kept.
	DefaultSessionTTL = time.Hour

	// DefaultMaxSessions caps the number of sessions held at once.
	DefaultMaxSessions = 100
)

var (
	// ErrEmptyText is returned when the submitted text is blank.
	ErrEmptyText = errors.New("generation: text is empty")

	// ErrUnknownProvider is returned for an unregistered provider id.
	ErrUnknownProvider = errors.New("generation: unknown provider")

	// ErrNotFound is returned for an unknown or evicted session id.
	ErrNotFound = errors.New("generation: session not found")

	// ErrTooManySessions is returned when the session cap is reached.
	ErrTooManySessions = errors.New("generation: too many sessions")
)

// CreateRequest describes a new generation session.
type CreateRequest struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Voice    string `json:"voice"`
	VoiceID  string `json:"voiceId"`
	Model    string `json:"model"`
	UserID   string `json:"-"`
}

type entry struct {
	session  *batch.Session
	userID   string
	cancel   context.CancelFunc
	running  bool
	resume   bool
	idle     time.Time
}

// Manager owns every generation session of the process. All exported methods
// are safe for concurrent use.
type Manager struct {
	orch      *batch.Orchestrator
	providers *tts.Set
	jobs      store.JobStore
	metrics   *observe.Metrics
	ttl       time.Duration
	max       int
	now       func() time.Time

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	byID   map[string]*entry
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithJobStore records a usage job whenever a run finishes.
func WithJobStore(js store.JobStore) Option {
	return func(m *Manager) { m.jobs = js }
}

// WithSessionTTL sets how long idle sessions are kept. Zero keeps them until
// deleted.
func WithSessionTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

// WithMaxSessions caps the number of sessions. Zero means unlimited.
func WithMaxSessions(n int) Option {
	return func(m *Manager) { m.max = n }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// WithClock overrides the time source used for eviction.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager that runs sessions with orch against providers.
func NewManager(orch *batch.Orchestrator, providers *tts.Set, opts ...Option) *Manager {
	ctx, stop := context.WithCancel(context.Background())
	m := &Manager{
		orch:      orch,
		providers: providers,
		ttl:       DefaultSessionTTL,
		max:       DefaultMaxSessions,
		now:       time.Now,
		ctx:       ctx,
		stop:      stop,
		byID:      make(map[string]*entry),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Create validates req, chunks its text with the provider's chunk size and
// starts the run in the background.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*batch.Session, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyText
	}
	p, ok := m.providers.Get(req.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, req.Provider)
	}
	if err := p.CheckCredentials(); err != nil {
		return nil, err
	}

	template := synth.Request{
		Provider: req.Provider,
		Voice:    req.Voice,
		Model:    req.Model,
		UserID:   req.UserID,
	}.WithVoice(req.VoiceID)
	s := batch.NewSession(store.NewID(), template, chunker.Chunk(text, p.Info().ChunkSize))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("generation: manager closed")
	}
	m.sweepLocked()
	if m.max > 0 && len(m.byID) >= m.max {
		return nil, ErrTooManySessions
	}
	e := &entry{session: s, userID: req.UserID}
	m.byID[s.ID()] = e
	m.metrics.ActiveSessions.Add(ctx, 1)
	m.launchLocked(e)

	observe.Logger(ctx).Info("generation session created",
		"session_id", s.ID(),
		"provider", req.Provider,
		"chunks", len(s.TextChunks()),
		"batch_size", m.orch.BatchSize(),
	)
	return s, nil
}

// SetOrchestrator replaces the orchestrator used by runs started from now
// on. Runs in flight keep theirs.
func (m *Manager) SetOrchestrator(orch *batch.Orchestrator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orch = orch
}

// SetLimits updates the idle TTL and the session cap.
func (m *Manager) SetLimits(ttl time.Duration, maxSessions int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttl = ttl
	m.max = maxSessions
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*batch.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.session, nil
}

// Owner returns the id of the user who created the session with id.
func (m *Manager) Owner(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return "", ErrNotFound
	}
	return e.userID, nil
}

// Pause asks the session to stop before its next batch.
func (m *Manager) Pause(id string) (*batch.Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	s.Pause()
	return s, nil
}

// Resume clears a pending pause or restarts a paused run.
func (m *Manager) Resume(id string) (*batch.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.session.Resume() {
		switch {
		case e.running:
			// The run is paused but has not returned yet.
			e.resume = true
		case !m.closed:
			m.launchLocked(e)
		}
	}
	return e.session, nil
}

// Delete aborts a running session and forgets it.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	m.removeLocked(ctx, id, e)
	return nil
}

// Len returns the number of sessions currently held.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// Sweep evicts sessions that have been idle, finished or paused, for longer
// than the TTL and returns how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked()
}

// Janitor calls [Manager.Sweep] every interval until ctx is done.
func (m *Manager) Janitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := m.Sweep(); n > 0 {
				slog.Debug("generation sessions evicted", "count", n)
			}
		}
	}
}

// Close aborts every running session and waits for the runs to return. It
// honours ctx while waiting.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("generation: close: %w", ctx.Err())
	}
}

// launchLocked starts a run of e. Callers must hold m.mu.
func (m *Manager) launchLocked(e *entry) {
	ctx, cancel := context.WithCancel(m.ctx)
	orch := m.orch
	e.cancel = cancel
	e.running = true
	e.resume = false
	e.idle = time.Time{}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		err := orch.Run(ctx, e.session)
		m.finish(e, err)
	}()
}

// finish records the end of one run.
func (m *Manager) finish(e *entry, runErr error) {
	snap := e.session.Snapshot()
	log := slog.With("session_id", snap.ID, "state", snap.State)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Warn("generation run ended with error", "err", runErr)
	}

	terminal := snap.State == batch.StateCompleted || snap.State == batch.StateAborted

	m.mu.Lock()
	e.running = false
	e.idle = m.now()
	if e.resume {
		e.resume = false
		if _, live := m.byID[snap.ID]; live && !terminal && !m.closed {
			m.launchLocked(e)
			m.mu.Unlock()
			log.Info("generation run resumed")
			return
		}
	}
	m.mu.Unlock()

	if !terminal {
		log.Info("generation run paused", "completed", snap.Progress.CompletedChunks)
		return
	}
	log.Info("generation run finished",
		"completed", snap.Progress.CompletedChunks,
		"failed", snap.Progress.FailedChunks,
	)
	m.recordJob(e, snap)
}

// recordJob stores usage for a finished run. Nothing is recorded when no
// chunk completed.
func (m *Manager) recordJob(e *entry, snap batch.Snapshot) {
	if m.jobs == nil || snap.Progress.CompletedChunks == 0 {
		return
	}
	chars := 0
	for _, c := range snap.Chunks {
		if c.Status == batch.StatusCompleted {
			chars += utf8.RuneCountInString(c.Text)
		}
	}
	user := e.userID
	if user == "" {
		user = "unknown_user"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := m.jobs.RecordJob(ctx, store.Job{
		UserID:       user,
		Provider:     snap.Provider,
		Characters:   chars,
		Chunks:       snap.Progress.TotalChunks,
		FailedChunks: snap.Progress.FailedChunks,
	})
	if err != nil {
		slog.Error("failed to record job", "session_id", snap.ID, "err", err)
	}
}

func (m *Manager) removeLocked(ctx context.Context, id string, e *entry) {
	if e.cancel != nil {
		e.cancel()
	}
	delete(m.byID, id)
	m.metrics.ActiveSessions.Add(ctx, -1)
}

func (m *Manager) sweepLocked() int {
	if m.ttl <= 0 {
		return 0
	}
	now := m.now()
	n := 0
	for id, e := range m.byID {
		if e.running || e.idle.IsZero() || now.Sub(e.idle) < m.ttl {
			continue
		}
		m.removeLocked(context.Background(), id, e)
		n++
	}
	return n
}
