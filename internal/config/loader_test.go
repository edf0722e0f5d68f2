package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoader_LoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "gateway.yaml")

	yamlContent := `
server:
  port: 8080
  log_level: debug
  cors: true
  fail_mode: closed

policies_dir: ./policies

storage:
  driver: sqlite
  path: ./test.db

review:
  dsn: "postgres://localhost/reviews"
  lock_duration: 5m
  bypass_max_age: 12h

policies:
  - name: keyword-block
    type: keyword
    outcome: BLOCK
    reason: "contains a blocked keyword"
    keywords: ["secret-project"]
    active: true
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	cfg := loader.Get()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("Server.LogLevel = %q, want \"debug\"", cfg.Server.LogLevel)
	}
	if !cfg.Server.CORS {
		t.Error("Server.CORS = false, want true")
	}
	if cfg.Server.FailMode != "closed" {
		t.Errorf("Server.FailMode = %q, want \"closed\"", cfg.Server.FailMode)
	}
	if cfg.PoliciesDir != "./policies" {
		t.Errorf("PoliciesDir = %q, want \"./policies\"", cfg.PoliciesDir)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q, want \"sqlite\"", cfg.Storage.Driver)
	}
	if cfg.Review.DSN != "postgres://localhost/reviews" {
		t.Errorf("Review.DSN = %q, want the configured DSN", cfg.Review.DSN)
	}
	if cfg.Review.LockDuration != 5*time.Minute {
		t.Errorf("Review.LockDuration = %v, want 5m", cfg.Review.LockDuration)
	}
	if len(cfg.Policies) != 1 || cfg.Policies[0].Name != "keyword-block" {
		t.Fatalf("Policies = %+v, want one policy named keyword-block", cfg.Policies)
	}
	if cfg.Policies[0].Type != "keyword" {
		t.Errorf("Policies[0].Type = %q, want \"keyword\"", cfg.Policies[0].Type)
	}
}

func TestLoader_LoadMissingFileFallsBackToDefaults(t *testing.T) {
	loader := NewLoader()
	err := loader.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected an error loading a missing config file")
	}
	// The previously-held default config must still be intact.
	cfg := loader.Get()
	if cfg.Server.Port != DefaultConfig().Server.Port {
		t.Errorf("Get() after failed Load() = %+v, want unchanged defaults", cfg.Server)
	}
}

func TestLoader_WatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "gateway.yaml")

	if err := os.WriteFile(configPath, []byte("server:\n  port: 1000\n"), 0644); err != nil {
		t.Fatalf("failed to write initial config: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	reloaded := make(chan *Config, 1)
	if err := loader.Watch(configPath, func(cfg *Config) { reloaded <- cfg }); err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	defer loader.StopWatch()

	if err := os.WriteFile(configPath, []byte("server:\n  port: 2000\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Server.Port != 2000 {
			t.Errorf("reloaded Server.Port = %d, want 2000", cfg.Server.Port)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload notification")
	}
}
