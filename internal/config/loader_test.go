package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MAESTRO_WORKER_TOKEN", "worker-secret")
	t.Setenv("MAESTRO_MASTER_KEY", "master-secret")
}

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port, got %q", cfg.Server.Port)
	}
	if cfg.Ticks.Event != 2*time.Second || cfg.Ticks.Trigger != 5*time.Second {
		t.Fatalf("expected default tick intervals, got %+v", cfg.Ticks)
	}
	if cfg.Worker.HeartbeatInterval != 30*time.Second || cfg.Worker.HeartbeatTimeout != 90*time.Second {
		t.Fatalf("expected default heartbeat config, got %+v", cfg.Worker)
	}
	if cfg.Dispatch.Retention != 10*time.Minute {
		t.Fatalf("expected default retention, got %v", cfg.Dispatch.Retention)
	}
}

func TestLoadFromYAMLOverride(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "maestro.yaml")
	yaml := `
server:
  port: "9090"
ticks:
  event: 1s
dispatch:
  retention: 5m
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Fatalf("expected yaml port, got %q", cfg.Server.Port)
	}
	if cfg.Ticks.Event != time.Second {
		t.Fatalf("expected yaml event tick, got %v", cfg.Ticks.Event)
	}
	if cfg.Dispatch.Retention != 5*time.Minute {
		t.Fatalf("expected yaml retention, got %v", cfg.Dispatch.Retention)
	}
	// Untouched values keep their defaults.
	if cfg.Ticks.Trigger != 5*time.Second {
		t.Fatalf("expected default trigger tick, got %v", cfg.Ticks.Trigger)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAESTRO_PORT", "7070")
	t.Setenv("MAESTRO_EVENT_TICK_INTERVAL", "500ms")

	path := filepath.Join(t.TempDir(), "maestro.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"9090\"\n"), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Fatalf("expected env port to win, got %q", cfg.Server.Port)
	}
	if cfg.Ticks.Event != 500*time.Millisecond {
		t.Fatalf("expected env tick to win, got %v", cfg.Ticks.Event)
	}
}

func TestLoadRequiresWorkerTokenAndMasterKey(t *testing.T) {
	t.Setenv("MAESTRO_WORKER_TOKEN", "")
	t.Setenv("MAESTRO_MASTER_KEY", "")

	if _, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected validation error without worker token and master key")
	}
}

func TestValidateRejectsBadHeartbeatConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Worker.Token = "x"
	cfg.MasterKey = "y"
	cfg.Worker.HeartbeatTimeout = cfg.Worker.HeartbeatInterval

	if err := validate(&cfg); err == nil {
		t.Fatal("expected error when heartbeat timeout <= interval")
	}
}
