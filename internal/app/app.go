// Package app wires all Narrata subsystems into a running HTTP server.
//
// The App struct owns the full lifecycle: New opens the store and builds every
// service and route, Run serves HTTP until the context ends, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithDispatcher, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/narrata/internal/admin"
	"github.com/MrWong99/narrata/internal/auth"
	"github.com/MrWong99/narrata/internal/batch"
	"github.com/MrWong99/narrata/internal/catalog"
	"github.com/MrWong99/narrata/internal/config"
	"github.com/MrWong99/narrata/internal/generation"
	"github.com/MrWong99/narrata/internal/health"
	"github.com/MrWong99/narrata/internal/observe"
	"github.com/MrWong99/narrata/internal/resilience"
	"github.com/MrWong99/narrata/internal/synth"
	"github.com/MrWong99/narrata/pkg/provider/tts"
	"github.com/MrWong99/narrata/pkg/store"
	"github.com/MrWong99/narrata/pkg/store/postgres"
	"github.com/MrWong99/narrata/pkg/store/sqlite"
)

// janitorInterval is how often idle generation sessions are swept.
const janitorInterval = time.Minute

// App owns all subsystem lifetimes and serves the Narrata HTTP API.
type App struct {
	cfg       *config.Config
	providers *tts.Set

	// Subsystems, initialised in New and torn down in Shutdown.
	store      store.Store
	metrics    *observe.Metrics
	breakers   *resilience.BreakerSet
	synth      *synth.Service
	catalog    *catalog.Catalog
	sessions   *generation.Manager
	authn      *auth.Authenticator
	dispatcher batch.Dispatcher
	handler    http.Handler
	server     *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of opening one from config. The caller
// keeps ownership; Shutdown does not close it.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithDispatcher replaces the in-process dispatcher used by generation
// sessions.
func WithDispatcher(d batch.Dispatcher) Option {
	return func(a *App) { a.dispatcher = d }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. providers comes from
// main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *tts.Set, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Store ─────────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Auth ──────────────────────────────────────────────────────────
	if err := a.initAuth(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init auth: %w", err)
	}

	// ── 3. Synthesis ─────────────────────────────────────────────────────
	a.initSynth()

	// ── 4. Catalogue ─────────────────────────────────────────────────────
	a.catalog = catalog.New(providers, catalog.WithCustomVoices(a.store))

	// ── 5. Generation sessions ───────────────────────────────────────────
	if a.dispatcher == nil {
		a.dispatcher = batch.LocalDispatcher{Service: a.synth}
	}
	g := cfg.Generation
	a.sessions = generation.NewManager(a.newOrchestrator(g), providers,
		generation.WithJobStore(a.store),
		generation.WithSessionTTL(g.SessionTTL),
		generation.WithMaxSessions(g.MaxSessions),
		generation.WithMetrics(a.metrics),
	)

	// ── 6. Routes ────────────────────────────────────────────────────────
	a.handler = a.routes()
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured database unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	db := a.cfg.Database
	var (
		st  store.Store
		err error
	)
	switch db.Driver {
	case config.DriverPostgres:
		st, err = postgres.NewStore(ctx, db.DSN)
	case config.DriverSQLite, "":
		path := db.DSN
		if path == "" {
			path = config.DefaultSQLitePath
		}
		st, err = sqlite.Open(ctx, path)
	default:
		err = fmt.Errorf("unknown database driver %q", db.Driver)
	}
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	slog.Info("store opened", "driver", db.Driver)
	return nil
}

// initAuth builds the authenticator and bootstraps the admin account.
func (a *App) initAuth(ctx context.Context) error {
	opts := []auth.Option{auth.WithRealm(a.cfg.Auth.Realm)}
	if a.cfg.Auth.Disabled {
		opts = append(opts, auth.Disabled())
	}
	a.authn = auth.New(a.store, opts...)

	if email := a.cfg.Auth.AdminEmail; email != "" {
		u, err := auth.Bootstrap(ctx, a.store, email, a.cfg.Auth.AdminPassword)
		if err != nil {
			return err
		}
		slog.Info("admin account ready", "email", u.Email, "user_id", u.ID)
	}
	return nil
}

// initSynth builds the single-chunk service with per-provider pacing and
// circuit breakers.
func (a *App) initSynth() {
	r := a.cfg.Resilience
	a.breakers = resilience.NewBreakerSet(resilience.CircuitBreakerConfig{
		MaxFailures:  r.MaxFailures,
		ResetTimeout: r.ResetTimeout,
	})
	opts := []synth.Option{
		synth.WithMetrics(a.metrics),
		synth.WithBreakers(a.breakers),
	}
	for _, p := range a.cfg.Providers {
		if rl := p.RateLimit; rl != nil {
			opts = append(opts, synth.WithRateLimit(p.Name, rl.PerMinute, rl.Burst))
		}
	}
	a.synth = synth.New(a.providers, opts...)
}

// newOrchestrator builds an orchestrator from generation tuning.
func (a *App) newOrchestrator(g config.GenerationConfig) *batch.Orchestrator {
	return batch.New(a.dispatcher,
		batch.WithBatchSize(g.BatchSize),
		batch.WithCooldown(g.CooldownOrDefault()),
		batch.WithCallTimeout(g.CallTimeoutOrDefault()),
		batch.WithTick(g.Tick),
		batch.WithMetrics(a.metrics),
	)
}

// routes registers every endpoint and wraps the mux with observability.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	authn := a.authn.Middleware

	health.New(
		health.Database(a.store),
		health.Providers(a.providers),
		health.Breakers(a.breakers),
	).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())

	gen := synth.NewHandler(a.synth, auth.UserID)
	mux.Handle("POST /api/generate-audio", authn(gen))
	mux.Handle("POST /api/generate-audio-comprehensive", authn(gen))

	catalog.NewHandler(a.catalog).Register(mux, authn)
	generation.NewHandler(a.sessions, auth.UserID, auth.IsAdmin).Register(mux, authn)
	admin.New(a.store).Register(mux, authn, auth.RequireAdmin)

	return observe.Middleware(a.metrics)(mux)
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the generation session manager.
func (a *App) Sessions() *generation.Manager { return a.sessions }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on ln, or on the configured address when ln is nil, and
// blocks until ctx is cancelled or the server fails. When ctx is done, Run
// returns context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context, ln net.Listener) error {
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
		}
	}
	a.server = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	go a.sessions.Janitor(ctx, janitorInterval)
	go func() {
		if err := a.catalog.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("voice catalogue warm-up failed", "err", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		errCh <- err
	}()

	slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Reconfigure applies the hot-reloadable parts of a config change.
func (a *App) Reconfigure(d config.ConfigDiff) {
	if d.GenerationChanged {
		g := d.NewGeneration
		a.sessions.SetOrchestrator(a.newOrchestrator(g))
		a.sessions.SetLimits(g.SessionTTL, g.MaxSessions)
		slog.Info("generation settings reloaded",
			"batch_size", g.BatchSize,
			"cooldown", g.CooldownOrDefault(),
			"call_timeout", g.CallTimeoutOrDefault(),
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, aborts running generation sessions and
// closes the store. It respects the context deadline: if ctx expires before
// all closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
			}
		}
		if err := a.sessions.Close(ctx); err != nil {
			slog.Warn("generation sessions did not stop in time", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs every closer, ignoring errors. Used when New fails midway.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
