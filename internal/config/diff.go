package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GenerationChanged is set when any generation tuning changed. The new
	// values apply to sessions created afterwards.
	GenerationChanged bool
	NewGeneration     GenerationConfig

	// RestartRequired lists sections that changed but only take effect after
	// a restart (e.g., "providers", "database").
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.GenerationChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !generationEqual(old.Generation, new.Generation) {
		d.GenerationChanged = true
		d.NewGeneration = new.Generation
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Database != new.Database {
		d.RestartRequired = append(d.RestartRequired, "database")
	}
	if old.Auth != new.Auth {
		d.RestartRequired = append(d.RestartRequired, "auth")
	}
	if old.Observability != new.Observability {
		d.RestartRequired = append(d.RestartRequired, "observability")
	}
	if old.Resilience != new.Resilience {
		d.RestartRequired = append(d.RestartRequired, "resilience")
	}
	return d
}

// generationEqual compares two generation sections by effective value.
func generationEqual(a, b GenerationConfig) bool {
	return a.BatchSize == b.BatchSize &&
		a.CooldownOrDefault() == b.CooldownOrDefault() &&
		a.CallTimeoutOrDefault() == b.CallTimeoutOrDefault() &&
		a.Tick == b.Tick &&
		a.SessionTTL == b.SessionTTL &&
		a.MaxSessions == b.MaxSessions
}
