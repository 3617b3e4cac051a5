package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/kimhsiao/catalogsync/internal/errors"
)

// =====================================================
// Test Helpers
// =====================================================

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// =====================================================
// Default Tests
// =====================================================

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Backend.Kind != BackendREST || cfg.Storage.Kind != StorageSQLite {
		t.Errorf("kinds = %s/%s", cfg.Backend.Kind, cfg.Storage.Kind)
	}
	if cfg.Sync.Interval != 15*time.Minute || cfg.Sync.Timeout != 5*time.Minute {
		t.Errorf("sync = %+v", cfg.Sync)
	}
	if !cfg.Sync.InitialOnline || !cfg.Sync.AutoReplay {
		t.Errorf("sync flags = %+v", cfg.Sync)
	}
	if cfg.Backend.Breaker.MaxFailures != 3 || cfg.Backend.Breaker.OpenTimeout != 10*time.Second {
		t.Errorf("breaker = %+v", cfg.Backend.Breaker)
	}
	if cfg.Server.Addr() != "127.0.0.1:8420" {
		t.Errorf("server addr = %s", cfg.Server.Addr())
	}

	// Defaults alone lack a backend URL.
	if err := cfg.Validate(); !apperrors.Is(err, apperrors.ErrConfig) {
		t.Errorf("Validate() on defaults = %v, want %s", err, apperrors.ErrConfig)
	}
}

// =====================================================
// Load Tests
// =====================================================

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "catalogsync.yaml", `
company: acme
backend:
  kind: postgres
  database_url: postgres://localhost/catalog
  breaker:
    max_failures: 5
storage:
  kind: memory
sync:
  interval: 1m
  timeout: 30s
server:
  port: 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Company != "acme" {
		t.Errorf("company = %q", cfg.Company)
	}
	if cfg.Backend.Kind != BackendPostgres || cfg.Backend.DatabaseURL != "postgres://localhost/catalog" {
		t.Errorf("backend = %+v", cfg.Backend)
	}
	if cfg.Backend.Breaker.MaxFailures != 5 {
		t.Errorf("breaker max failures = %d", cfg.Backend.Breaker.MaxFailures)
	}
	if cfg.Sync.Interval != time.Minute || cfg.Sync.Timeout != 30*time.Second {
		t.Errorf("sync = %+v", cfg.Sync)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	// Untouched keys keep their defaults.
	if cfg.Logging.Level != "info" || cfg.Sync.ProbeInterval != 30*time.Second {
		t.Errorf("defaults lost: logging %+v, probe %s", cfg.Logging, cfg.Sync.ProbeInterval)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "catalogsync.yaml", `
backend:
  url: https://file.example.com
storage:
  kind: memory
`)
	t.Setenv("CATALOG_BACKEND_URL", "https://env.example.com")
	t.Setenv("CATALOG_SYNC_INTERVAL", "2m")
	t.Setenv("CATALOG_STORAGE_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Backend.URL != "https://env.example.com" {
		t.Errorf("backend url = %q", cfg.Backend.URL)
	}
	if cfg.Sync.Interval != 2*time.Minute {
		t.Errorf("interval = %s", cfg.Sync.Interval)
	}
	if cfg.Storage.Redis.Addr != "localhost:6379" {
		t.Errorf("redis addr = %q", cfg.Storage.Redis.Addr)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !apperrors.Is(err, apperrors.ErrConfig) {
		t.Errorf("Load() error = %v, want %s", err, apperrors.ErrConfig)
	}
}

func TestLoad_NoFile(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	t.Setenv("CATALOG_BACKEND_URL", "https://env.example.com")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() without a file failed: %v", err)
	}
	if cfg.Backend.URL != "https://env.example.com" {
		t.Errorf("backend url = %q", cfg.Backend.URL)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "CATALOG_COMPANY=globex\n")
	t.Setenv("CATALOG_COMPANY", "")
	os.Unsetenv("CATALOG_COMPANY")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() failed: %v", err)
	}
	if got := os.Getenv("CATALOG_COMPANY"); got != "globex" {
		t.Errorf("CATALOG_COMPANY = %q", got)
	}

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("LoadDotEnv() of a missing file = %v", err)
	}
}

// =====================================================
// Validate Tests
// =====================================================

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Backend.URL = "https://example.com"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid rest", func(*Config) {}, false},
		{"unknown backend", func(c *Config) { c.Backend.Kind = "graphql" }, true},
		{"postgres without url", func(c *Config) { c.Backend.Kind = BackendPostgres }, true},
		{"postgres with url", func(c *Config) {
			c.Backend.Kind = BackendPostgres
			c.Backend.DatabaseURL = "postgres://x"
		}, false},
		{"unknown storage", func(c *Config) { c.Storage.Kind = "s3" }, true},
		{"sqlite without dir", func(c *Config) { c.Storage.DataDir = "" }, true},
		{"redis without addr", func(c *Config) { c.Storage.Kind = StorageRedis }, true},
		{"memory storage", func(c *Config) { c.Storage.Kind = StorageMemory }, false},
		{"zero timeout", func(c *Config) { c.Sync.Timeout = 0 }, true},
		{"negative interval", func(c *Config) { c.Sync.Interval = -time.Second }, true},
		{"interval disabled", func(c *Config) { c.Sync.Interval = 0 }, false},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !apperrors.Is(err, apperrors.ErrConfig) {
				t.Errorf("Validate() error code = %s", apperrors.CodeOf(err))
			}
		})
	}
}
