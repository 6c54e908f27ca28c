package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":8090" {
		t.Fatalf("unexpected server address %q", cfg.Server.Address)
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Fatalf("unexpected driver %q", cfg.Database.Driver)
	}
	if cfg.Poll.IntervalSeconds != 5 {
		t.Fatalf("expected 5s poll interval, got %d", cfg.Poll.IntervalSeconds)
	}
	if cfg.Redis.Enabled {
		t.Fatalf("redis should be disabled by default")
	}
}

func TestLoadFileResolvesRelativeSQLitePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"server": {"address": ":9000"},
		"databases": {"sqlite3": {"dsn": "data/desk.db"}},
		"auth": {"jwt_secret": "from-file"}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Fatalf("file value not applied: %q", cfg.Server.Address)
	}
	want := filepath.Join(dir, "data", "desk.db")
	if got := cfg.Databases["sqlite3"].DSN; got != want {
		t.Fatalf("dsn = %q, want %q", got, want)
	}
	if cfg.Auth.JWTSecret != "from-file" {
		t.Fatalf("jwt secret not loaded")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"auth": {"jwt_secret": "from-file"}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("INCIDENTDESK_AUTH__JWT_SECRET", "from-env")
	t.Setenv("INCIDENTDESK_REDIS__ENABLED", "true")
	t.Setenv("INCIDENTDESK_POLL__INTERVAL_SECONDS", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Fatalf("env did not override file: %q", cfg.Auth.JWTSecret)
	}
	if !cfg.Redis.Enabled {
		t.Fatalf("expected redis enabled from env")
	}
	if cfg.Poll.IntervalSeconds != 2 {
		t.Fatalf("expected poll interval 2, got %d", cfg.Poll.IntervalSeconds)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestValidateUnknownDriver(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("INCIDENTDESK_DATABASE__DRIVER", "mysql")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected error when the selected driver has no settings")
	}
}
