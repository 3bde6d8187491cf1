package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr  = ":8080"
	DefaultBatchSize   = 5
	DefaultCooldown    = 65 * time.Second
	DefaultCallTimeout = 2 * time.Minute
	DefaultTick        = time.Second
	DefaultSessionTTL  = time.Hour
	DefaultMaxSessions = 100
	DefaultSQLitePath  = "narrata.db"
	DefaultServiceName = "narrata"
)

// KnownProviders lists the built-in provider names in display order.
// Used by [Validate] to warn about unrecognised provider names.
var KnownProviders = []string{"elevenlabs", "fishaudio", "minimax"}

// Secrets are the values read from the environment by [ApplyEnv].
type Secrets struct {
	ElevenLabsAPIKey string `env:"ELEVENLABS_API_KEY"`
	FishAudioAPIKey  string `env:"FISH_AUDIO_API_KEY"`
	MiniMaxAPIKey    string `env:"MINIMAX_API_KEY"`
	MiniMaxGroupID   string `env:"MINIMAX_GROUP_ID"`
	DatabaseDSN      string `env:"NARRATA_DATABASE_DSN"`
	AdminEmail       string `env:"NARRATA_ADMIN_EMAIL"`
	AdminPassword    string `env:"NARRATA_ADMIN_PASSWORD"`
}

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := parse(f, true)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// FromEnv returns a validated default [Config] with environment overrides.
// Used when no configuration file is given.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := ApplyEnv(cfg, nil); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. The environment is not consulted.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	return parse(r, false)
}

func parse(r io.Reader, withEnv bool) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if withEnv {
		if err := ApplyEnv(cfg, nil); err != nil {
			return nil, err
		}
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv copies secrets from the environment into cfg. environ replaces the
// process environment when non-nil. A provider key for a provider that is not
// listed adds an entry for it.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	var (
		s   Secrets
		err error
	)
	if environ == nil {
		s, err = env.ParseAs[Secrets]()
	} else {
		s, err = env.ParseAsWithOptions[Secrets](env.Options{Environment: environ})
	}
	if err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}

	setKey := func(name, key string, apply func(*ProviderEntry)) {
		if key == "" {
			return
		}
		for i := range cfg.Providers {
			if cfg.Providers[i].Name == name {
				apply(&cfg.Providers[i])
				return
			}
		}
		e := ProviderEntry{Name: name}
		apply(&e)
		cfg.Providers = append(cfg.Providers, e)
	}
	setKey("elevenlabs", s.ElevenLabsAPIKey, func(e *ProviderEntry) { e.APIKey = s.ElevenLabsAPIKey })
	setKey("fishaudio", s.FishAudioAPIKey, func(e *ProviderEntry) { e.APIKey = s.FishAudioAPIKey })
	setKey("minimax", s.MiniMaxAPIKey, func(e *ProviderEntry) { e.APIKey = s.MiniMaxAPIKey })
	setKey("minimax", s.MiniMaxGroupID, func(e *ProviderEntry) { e.GroupID = s.MiniMaxGroupID })

	if s.DatabaseDSN != "" {
		cfg.Database.DSN = s.DatabaseDSN
	}
	if s.AdminEmail != "" {
		cfg.Auth.AdminEmail = s.AdminEmail
	}
	if s.AdminPassword != "" {
		cfg.Auth.AdminPassword = s.AdminPassword
	}
	return nil
}

// ApplyDefaults fills unset fields. Every built-in provider missing from
// cfg.Providers is added without credentials so it is still listed.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	for _, name := range KnownProviders {
		if !slices.ContainsFunc(cfg.Providers, func(e ProviderEntry) bool { return e.Name == name }) {
			cfg.Providers = append(cfg.Providers, ProviderEntry{Name: name})
		}
	}

	g := &cfg.Generation
	if g.BatchSize == 0 {
		g.BatchSize = DefaultBatchSize
	}
	if g.Tick == 0 {
		g.Tick = DefaultTick
	}
	if g.SessionTTL == 0 {
		g.SessionTTL = DefaultSessionTTL
	}
	if g.MaxSessions == 0 {
		g.MaxSessions = DefaultMaxSessions
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverSQLite
	}
	if cfg.Database.Driver == DriverSQLite && cfg.Database.DSN == "" {
		cfg.Database.DSN = DefaultSQLitePath
	}

	if cfg.Auth.Realm == "" {
		cfg.Auth.Realm = "Narrata"
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = DefaultServiceName
	}
	if cfg.Observability.TraceExporter == "" {
		cfg.Observability.TraceExporter = TraceNone
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	seen := make(map[string]int, len(cfg.Providers))
	for i, p := range cfg.Providers {
		prefix := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[p.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers[%d]", prefix, p.Name, prev))
		}
		seen[p.Name] = i
		validateProviderName(p.Name)
		if p.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout must not be negative", prefix))
		}
		if rl := p.RateLimit; rl != nil && (rl.PerMinute < 0 || rl.Burst < 0) {
			errs = append(errs, fmt.Errorf("%s.rate_limit values must not be negative", prefix))
		}
	}

	// Generation
	g := cfg.Generation
	if g.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("generation.batch_size %d must be positive", g.BatchSize))
	}
	if g.Cooldown != nil && *g.Cooldown < 0 {
		errs = append(errs, errors.New("generation.cooldown must not be negative"))
	}
	if g.CallTimeout != nil && *g.CallTimeout < 0 {
		errs = append(errs, errors.New("generation.call_timeout must not be negative"))
	}
	if g.Tick < 0 || g.SessionTTL < 0 || g.MaxSessions < 0 {
		errs = append(errs, errors.New("generation.tick, session_ttl and max_sessions must not be negative"))
	}

	// Database
	if cfg.Database.Driver != "" && !cfg.Database.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("database.driver %q is invalid; valid values: sqlite, postgres", cfg.Database.Driver))
	}
	if cfg.Database.Driver == DriverPostgres && cfg.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required when driver is postgres"))
	}

	// Auth
	if (cfg.Auth.AdminEmail == "") != (cfg.Auth.AdminPassword == "") {
		slog.Warn("auth: admin_email and admin_password are normally set together; an existing account can be promoted with the email alone")
	}
	if cfg.Auth.Disabled {
		slog.Warn("auth is disabled; every request acts as an anonymous admin")
	}

	// Observability
	o := cfg.Observability
	if o.TraceExporter != "" && !o.TraceExporter.IsValid() {
		errs = append(errs, fmt.Errorf("observability.trace_exporter %q is invalid; valid values: none, stdout, otlp", o.TraceExporter))
	}
	if o.TraceExporter == TraceOTLP && o.OTLPEndpoint == "" {
		errs = append(errs, errors.New("observability.otlp_endpoint is required when trace_exporter is otlp"))
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 || cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience values must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not one of [KnownProviders].
func validateProviderName(name string) {
	if slices.Contains(KnownProviders, name) {
		return
	}
	slog.Warn("unknown provider name; it must be registered by a third-party factory",
		"name", name,
		"known", KnownProviders,
	)
}

// decodeBytes parses data the same way [Load] does.
func decodeBytes(data []byte) (*Config, error) {
	return parse(bytes.NewReader(data), true)
}
