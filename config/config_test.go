package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"DB_HOST", "DRAIN_INTERVAL", "ALLOW_PRIVATE_NETWORKS", "CONFIG_FILE"} {
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Database.Host != "localhost" {
		t.Errorf("expected default DB host localhost, got %q", cfg.Database.Host)
	}
	if cfg.App.DrainInterval != 5*time.Minute {
		t.Errorf("expected default drain interval 5m, got %v", cfg.App.DrainInterval)
	}
	if cfg.Security.AllowPrivateNetworks {
		t.Errorf("expected SSRF guard enabled by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DRAIN_INTERVAL", "90s")
	t.Setenv("ALLOW_PRIVATE_NETWORKS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Database.Host != "db.internal" {
		t.Errorf("expected DB host db.internal, got %q", cfg.Database.Host)
	}
	if cfg.App.DrainInterval != 90*time.Second {
		t.Errorf("expected drain interval 90s, got %v", cfg.App.DrainInterval)
	}
	if !cfg.Security.AllowPrivateNetworks {
		t.Errorf("expected SSRF guard disabled via env override")
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	contents := "app:\n  log_level: debug\ndatabase:\n  name: webmentions_test\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing overlay file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.App.LogLevel != "debug" {
		t.Errorf("expected log level debug from overlay, got %q", cfg.App.LogLevel)
	}
	if cfg.Database.Name != "webmentions_test" {
		t.Errorf("expected db name webmentions_test from overlay, got %q", cfg.Database.Name)
	}
}

func TestConnectionString(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{
		Host: "h", Port: "5432", User: "u", Password: "p", Name: "n",
	}}
	got := cfg.ConnectionString()
	want := "host=h port=5432 user=u password=p dbname=n sslmode=disable"
	if got != want {
		t.Errorf("ConnectionString() = %q, want %q", got, want)
	}
}
