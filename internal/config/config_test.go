package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(configPathEnv, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Poll.Interval.Std() != 10*time.Second {
		t.Fatalf("unexpected poll interval %v", cfg.Poll.Interval)
	}
	if cfg.Queue.Workers != 2 || cfg.Queue.MaxRetries != 3 {
		t.Fatalf("unexpected queue defaults %+v", cfg.Queue)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].ID != "ths-realtime" {
		t.Fatalf("expected default source, got %+v", cfg.Sources)
	}
	if cfg.DB.MigrationsDir != "migrations" {
		t.Fatalf("expected default migrations dir, got %q", cfg.DB.MigrationsDir)
	}
}

func TestMigrationsDirFromFile(t *testing.T) {
	path := writeConfig(t, "database:\n  migrations_dir: /srv/trendwatch/migrations\n")
	t.Setenv(configPathEnv, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DB.MigrationsDir != "/srv/trendwatch/migrations" {
		t.Fatalf("unexpected migrations dir %q", cfg.DB.MigrationsDir)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
poll:
  interval: 30s
full_content:
  enabled: false
  fetch_delay: 500ms
queue:
  retry_delay: 2s
sources:
  - id: feed-a
    name: Feed A
    type: rss
    url: https://example.com/rss
    timeout: 15s
  - id: feed-b
    name: Feed B
    type: ths
    enabled: false
`)
	t.Setenv(configPathEnv, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Poll.Interval.Std() != 30*time.Second {
		t.Fatalf("unexpected poll interval %v", cfg.Poll.Interval)
	}
	if cfg.FullContent.Enabled {
		t.Fatal("expected full content disabled")
	}
	if cfg.FullContent.FetchDelay.Std() != 500*time.Millisecond {
		t.Fatalf("unexpected fetch delay %v", cfg.FullContent.FetchDelay)
	}
	if cfg.Queue.RetryDelay.Std() != 2*time.Second {
		t.Fatalf("unexpected retry delay %v", cfg.Queue.RetryDelay)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(cfg.Sources))
	}
	if cfg.Sources[0].Timeout.Std() != 15*time.Second {
		t.Fatalf("unexpected source timeout %v", cfg.Sources[0].Timeout)
	}
	if !cfg.Sources[0].IsEnabled() {
		t.Fatal("source without enabled flag should default to enabled")
	}
	if cfg.Sources[1].IsEnabled() {
		t.Fatal("source with enabled: false should be disabled")
	}
}

func TestLoadBareIntegerDuration(t *testing.T) {
	path := writeConfig(t, "poll:\n  interval: 60\n")
	t.Setenv(configPathEnv, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Poll.Interval.Std() != 60*time.Second {
		t.Fatalf("bare integers should read as seconds, got %v", cfg.Poll.Interval)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfig(t, "poll:\n  interval: soon\n")
	t.Setenv(configPathEnv, path)

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for an unparseable duration")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv("DATABASE_DSN", "postgres://env/db")
	t.Setenv("POLL_INTERVAL_SECONDS", "45")
	t.Setenv("SERVER_ADDR", ":9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DB.DSN != "postgres://env/db" {
		t.Fatalf("unexpected dsn %q", cfg.DB.DSN)
	}
	if cfg.Poll.Interval.Std() != 45*time.Second {
		t.Fatalf("unexpected poll interval %v", cfg.Poll.Interval)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \"\"\n")
	t.Setenv(configPathEnv, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.Server.Addr)
	}
	if cfg.Filter.Path != "config/keywords.txt" {
		t.Fatalf("expected default filter path, got %q", cfg.Filter.Path)
	}
}
