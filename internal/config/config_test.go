package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, _, exists, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if cfg.Engine.Port != defaultEnginePort {
		t.Fatalf("engine port = %d, want %d", cfg.Engine.Port, defaultEnginePort)
	}
	if cfg.Engine.Host != "127.0.0.1" {
		t.Fatalf("engine host = %q", cfg.Engine.Host)
	}
	if cfg.Jobs.PollInterval != 1 || cfg.Jobs.MaxMonitorErrors != 3 {
		t.Fatalf("unexpected job defaults: %+v", cfg.Jobs)
	}
	if cfg.Watchers.MountInterval != 5 || cfg.Watchers.ServeInterval != 5 {
		t.Fatalf("unexpected watcher defaults: %+v", cfg.Watchers)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[daemon]
log_dir = "` + filepath.Join(dir, "logs") + `"

[engine]
port = 6000
ready_timeout = 0

[logging]
format = "JSON"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if resolved != path {
		t.Fatalf("resolved = %q, want %q", resolved, path)
	}
	if cfg.Engine.Port != 6000 {
		t.Fatalf("engine port = %d", cfg.Engine.Port)
	}
	if cfg.Engine.ReadyTimeout != defaultReadyTimeout {
		t.Fatalf("ready timeout not defaulted: %d", cfg.Engine.ReadyTimeout)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("logging format = %q", cfg.Logging.Format)
	}
	if cfg.EngineAddr() != "127.0.0.1:6000" {
		t.Fatalf("EngineAddr = %q", cfg.EngineAddr())
	}
}

func TestValidateRejectsHalfConfiguredAuth(t *testing.T) {
	cfg := Default()
	cfg.Engine.Username = "admin"
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "engine.password") {
		t.Fatalf("expected auth validation error, got %v", err)
	}
}

func TestValidateRejectsBadLogFormat(t *testing.T) {
	cfg := Default()
	cfg.Logging.Format = "logfmt"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported log format")
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("sample config not detected")
	}
	if cfg.Engine.Binary != "rclone" {
		t.Fatalf("engine binary = %q", cfg.Engine.Binary)
	}
}
