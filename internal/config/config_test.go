package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Storage.Driver != DriverSQLite || !cfg.Storage.AutoMigrate {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.Indexer.Mode != IndexerSweep || cfg.Indexer.Interval != time.Second {
		t.Fatalf("unexpected indexer defaults: %+v", cfg.Indexer)
	}
	if cfg.Commit.MaxRaceRetries != 8 {
		t.Fatalf("max_race_retries = %d, want 8", cfg.Commit.MaxRaceRetries)
	}
	if cfg.Read.DefaultLimit != 100 || cfg.Read.MaxLimit != 1000 {
		t.Fatalf("unexpected read defaults: %+v", cfg.Read)
	}
	if cfg != Default() {
		t.Fatalf("Load(\"\") and Default() disagree")
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	t.Setenv("PUPSTORE_INDEXER_MODE", "sync")

	path := filepath.Join(t.TempDir(), "pupstore.yaml")
	content := []byte(`
storage:
  driver: pebble
  data_dir: /var/lib/pupstore
indexer:
  mode: sweep
  interval: 250ms
retry:
  max_attempts: 7
log:
  level: debug
  format: json
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Indexer.Mode != IndexerSync {
		t.Fatalf("expected env override to select sync mode, got %q", cfg.Indexer.Mode)
	}
	if cfg.Indexer.Interval != 250*time.Millisecond {
		t.Fatalf("interval = %v", cfg.Indexer.Interval)
	}
	if cfg.Storage.Driver != DriverPebble || cfg.Storage.DataDir != "/var/lib/pupstore" {
		t.Fatalf("unexpected storage: %+v", cfg.Storage)
	}
	if cfg.Retry.MaxAttempts != 7 || cfg.Log.Format != "json" {
		t.Fatalf("unexpected retry/log: %+v %+v", cfg.Retry, cfg.Log)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pupstore.toml")
	content := []byte(`
[storage]
driver = "memory"

[http]
addr = "127.0.0.1:9000"
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load toml: %v", err)
	}
	if cfg.Storage.Driver != DriverMemory || cfg.HTTP.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "dynamo" }, wantErr: "storage.driver"},
		{name: "sql without dsn", mutate: func(c *Config) { c.Storage.Driver = DriverPostgres; c.Storage.DSN = "" }, wantErr: "storage.dsn"},
		{name: "pebble without dir", mutate: func(c *Config) { c.Storage.Driver = DriverPebble; c.Storage.DataDir = "" }, wantErr: "storage.data_dir"},
		{name: "unknown indexer mode", mutate: func(c *Config) { c.Indexer.Mode = "cron" }, wantErr: "indexer.mode"},
		{name: "sweep without interval", mutate: func(c *Config) { c.Indexer.Interval = 0 }, wantErr: "indexer.interval"},
		{name: "off without interval", mutate: func(c *Config) { c.Indexer.Mode = IndexerOff; c.Indexer.Interval = 0 }},
		{name: "zero race retries", mutate: func(c *Config) { c.Commit.MaxRaceRetries = 0 }, wantErr: "commit.max_race_retries"},
		{name: "inverted read limits", mutate: func(c *Config) { c.Read.MaxLimit = 10 }, wantErr: "read limits"},
		{name: "unknown log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
