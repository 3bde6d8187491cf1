package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/narrata/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad log level",
			yaml: "server:\n  log_level: loud\n",
			want: "server.log_level",
		},
		{
			name: "duplicate provider",
			yaml: "providers:\n  - name: fishaudio\n  - name: fishaudio\n",
			want: "duplicate",
		},
		{
			name: "missing provider name",
			yaml: "providers:\n  - api_key: x\n",
			want: "providers[0].name is required",
		},
		{
			name: "negative batch size",
			yaml: "generation:\n  batch_size: -1\n",
			want: "generation.batch_size",
		},
		{
			name: "negative cooldown",
			yaml: "generation:\n  cooldown: -5s\n",
			want: "generation.cooldown",
		},
		{
			name: "unknown driver",
			yaml: "database:\n  driver: mysql\n",
			want: "database.driver",
		},
		{
			name: "postgres without dsn",
			yaml: "database:\n  driver: postgres\n",
			want: "database.dsn is required",
		},
		{
			name: "otlp without endpoint",
			yaml: "observability:\n  trace_exporter: otlp\n",
			want: "otlp_endpoint",
		},
		{
			name: "bad exporter",
			yaml: "observability:\n  trace_exporter: jaeger\n",
			want: "trace_exporter",
		},
		{
			name: "incomplete tls",
			yaml: "server:\n  tls:\n    cert_file: a.pem\n",
			want: "server.tls",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
database:
  driver: mysql
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") || !strings.Contains(err.Error(), "database.driver") {
		t.Errorf("error should list both failures, got: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Providers: []config.ProviderEntry{{Name: "fishaudio", APIKey: "from-file", Model: "s1"}},
	}
	err := config.ApplyEnv(cfg, map[string]string{
		"FISH_AUDIO_API_KEY":     "from-env",
		"MINIMAX_API_KEY":        "mm",
		"MINIMAX_GROUP_ID":       "grp",
		"NARRATA_DATABASE_DSN":   "postgres://env/db",
		"NARRATA_ADMIN_EMAIL":    "root@example.com",
		"NARRATA_ADMIN_PASSWORD": "pw",
	})
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("providers = %+v, want fishaudio and minimax", cfg.Providers)
	}
	if p := cfg.Providers[0]; p.APIKey != "from-env" || p.Model != "s1" {
		t.Errorf("fishaudio = %+v, want env key and file model", p)
	}
	if p := cfg.Providers[1]; p.Name != "minimax" || p.APIKey != "mm" || p.GroupID != "grp" {
		t.Errorf("minimax = %+v", p)
	}
	if cfg.Database.DSN != "postgres://env/db" {
		t.Errorf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Auth.AdminEmail != "root@example.com" || cfg.Auth.AdminPassword != "pw" {
		t.Errorf("auth = %+v", cfg.Auth)
	}
}

func TestApplyEnv_EmptyKeepsFile(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Providers: []config.ProviderEntry{{Name: "elevenlabs", APIKey: "from-file"}},
		Database:  config.DatabaseConfig{DSN: "file.db"},
	}
	if err := config.ApplyEnv(cfg, map[string]string{}); err != nil {
		t.Fatal(err)
	}
	if cfg.Providers[0].APIKey != "from-file" || cfg.Database.DSN != "file.db" || len(cfg.Providers) != 1 {
		t.Errorf("cfg changed without environment: %+v", cfg)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "narrata.yaml")
	writeFile(t, path, "server:\n  listen_addr: \":7000\"\n")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":7000" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
}
