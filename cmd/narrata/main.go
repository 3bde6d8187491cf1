// Command narrata is the main entry point for the Narrata text-to-speech server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/narrata/internal/app"
	"github.com/MrWong99/narrata/internal/config"
	"github.com/MrWong99/narrata/internal/observe"
	"github.com/MrWong99/narrata/pkg/provider/tts"
	"github.com/MrWong99/narrata/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/narrata/pkg/provider/tts/fishaudio"
	"github.com/MrWong99/narrata/pkg/provider/tts/minimax"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional; the environment is used when empty)")
	watch := flag.Bool("watch", false, "reload log level and generation settings when the config file changes or on SIGHUP")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "narrata: config file %q not found; copy configs/example.yaml or omit -config to run from the environment\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "narrata: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("narrata starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	o := cfg.Observability
	exporter, err := observe.NewTraceExporter(ctx, string(o.TraceExporter), o.OTLPEndpoint, o.OTLPInsecure)
	if err != nil {
		slog.Error("failed to create trace exporter", "err", err)
		return 1
	}
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    o.ServiceName,
		ServiceVersion: version,
		TraceExporter:  exporter,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := reg.BuildTTS(cfg.Providers)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	for _, p := range providers.All() {
		info := p.Info()
		slog.Info("provider created", "name", info.ID, "chunk_size", info.ChunkSize, "configured", p.CheckCredentials() == nil)
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, providers)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot-reload (optional) ──────────────────────────────────────────
	if *watch && *configPath != "" {
		w, err := config.NewWatcher(*configPath, func(d config.ConfigDiff, _ *config.Config) {
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			application.Reconfigure(d)
		})
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		defer w.Stop()
		go reloadOnHangup(ctx, w)
		slog.Info("watching config for changes", "path", *configPath)
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	code := 0
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// loadConfig reads path, or only the environment when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}

// reloadOnHangup re-reads the config file on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := w.Reload(); err != nil && !errors.Is(err, config.ErrUnchanged) {
				slog.Warn("config reload on SIGHUP failed", "err", err)
			}
		}
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the built-in vendor factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the implementation package.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithAPIURL(entry.BaseURL))
		}
		if stream := optString(entry.Options, "stream_url"); stream != "" {
			opts = append(opts, elevenlabs.WithStreamURL(stream))
		}
		if entry.Timeout > 0 {
			opts = append(opts, elevenlabs.WithHTTPClient(&http.Client{Timeout: entry.Timeout}))
		}
		return elevenlabs.New(entry.APIKey, opts...), nil
	})

	reg.RegisterTTS("fishaudio", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []fishaudio.Option
		if entry.Model != "" {
			opts = append(opts, fishaudio.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, fishaudio.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, fishaudio.WithTimeout(entry.Timeout))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, fishaudio.WithListOptions(fishaudio.ListOptions{
				PageSize:   50,
				PageNumber: 1,
				SortBy:     "score",
				Languages:  []string{lang},
			}))
		}
		return fishaudio.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("minimax", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []minimax.Option
		if entry.Model != "" {
			opts = append(opts, minimax.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, minimax.WithBaseURL(entry.BaseURL))
		}
		if voices := optString(entry.Options, "voices_url"); voices != "" {
			opts = append(opts, minimax.WithVoicesURL(voices))
		}
		if entry.Timeout > 0 {
			opts = append(opts, minimax.WithTimeout(entry.Timeout))
		}
		return minimax.New(entry.APIKey, entry.GroupID, opts...)
	})

	for _, name := range reg.Names() {
		slog.Debug("registered provider", "kind", "tts", "name", name)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, providers *tts.Set) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Narrata, startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	for _, p := range providers.All() {
		state := "ready"
		if p.CheckCredentials() != nil {
			state = "(no credentials)"
		}
		printRow(p.Info().DisplayName, state)
	}
	printRow("Database", string(cfg.Database.Driver))
	if cfg.Auth.Disabled {
		printRow("Auth", "(disabled)")
	} else {
		printRow("Auth", "basic")
	}
	g := cfg.Generation
	printRow("Batch size", fmt.Sprint(g.BatchSize))
	printRow("Cooldown", g.CooldownOrDefault().String())
	printRow("Traces", string(cfg.Observability.TraceExporter))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
