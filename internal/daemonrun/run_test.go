package daemonrun

import (
	"path/filepath"
	"testing"

	"rchub/internal/config"
)

func TestSocketPathResolution(t *testing.T) {
	cfg := config.Default()
	cfg.Daemon.SocketPath = filepath.Join(t.TempDir(), "rchubd.sock")

	if got := SocketPath(&cfg, ""); got != cfg.Daemon.SocketPath {
		t.Fatalf("expected configured socket %q, got %q", cfg.Daemon.SocketPath, got)
	}

	override := filepath.Join(t.TempDir(), "other.sock")
	if got := SocketPath(&cfg, override); got != override {
		t.Fatalf("expected override socket %q, got %q", override, got)
	}

	cfg.Daemon.SocketPath = ""
	cfg.Daemon.LogDir = filepath.Join(t.TempDir(), "logs")
	expected := filepath.Join(cfg.Daemon.LogDir, "rchubd.sock")
	if got := SocketPath(&cfg, ""); got != expected {
		t.Fatalf("expected fallback socket %q, got %q", expected, got)
	}

	if got := SocketPath(nil, ""); got != filepath.Join("", "rchubd.sock") {
		t.Fatalf("unexpected nil-config socket %q", got)
	}
}

func TestPIDPath(t *testing.T) {
	cfg := config.Default()
	cfg.Daemon.LogDir = t.TempDir()
	expected := filepath.Join(cfg.Daemon.LogDir, "rchubd.pid")
	if got := PIDPath(&cfg); got != expected {
		t.Fatalf("expected pid path %q, got %q", expected, got)
	}
	if got := PIDPath(nil); got != "" {
		t.Fatalf("expected empty pid path, got %q", got)
	}
}
