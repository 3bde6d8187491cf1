package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/narrata/internal/config"
)

func dur(d time.Duration) *time.Duration { return &d }

func baseConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() || d.LogLevelChanged || d.GenerationChanged || len(d.RestartRequired) != 0 {
		t.Errorf("diff = %+v, want empty", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v, want log level debug", d)
	}
}

func TestDiff_Generation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*config.GenerationConfig)
		changed bool
	}{
		{name: "batch size", mutate: func(g *config.GenerationConfig) { g.BatchSize = 2 }, changed: true},
		{name: "cooldown disabled", mutate: func(g *config.GenerationConfig) { g.Cooldown = dur(0) }, changed: true},
		{name: "explicit default cooldown", mutate: func(g *config.GenerationConfig) { g.Cooldown = dur(65 * time.Second) }, changed: false},
		{name: "call timeout", mutate: func(g *config.GenerationConfig) { g.CallTimeout = dur(time.Minute) }, changed: true},
		{name: "max sessions", mutate: func(g *config.GenerationConfig) { g.MaxSessions = 1 }, changed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tt.mutate(&new.Generation)
			if got := config.Diff(old, new).GenerationChanged; got != tt.changed {
				t.Errorf("GenerationChanged = %v, want %v", got, tt.changed)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Providers[0].APIKey = "rotated"
	new.Database.DSN = "other.db"
	new.Server.ListenAddr = ":1"

	got := config.Diff(old, new).RestartRequired
	for _, want := range []string{"server", "providers", "database"} {
		if !slices.Contains(got, want) {
			t.Errorf("RestartRequired = %v, missing %q", got, want)
		}
	}
	if slices.Contains(got, "auth") {
		t.Errorf("RestartRequired = %v, auth did not change", got)
	}
}
