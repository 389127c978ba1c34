package testsupport

import (
	"path/filepath"
	"testing"

	"rchub/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Daemon.LogDir = filepath.Join(base, "logs")
	cfg.Daemon.DataDir = filepath.Join(base, "data")
	cfg.Daemon.SocketPath = filepath.Join(base, "rchubd.sock")
	cfg.History.Enabled = true

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithEngineAddr points the engine section at an existing daemon address.
func WithEngineAddr(host string, port int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Engine.Host = host
		cfg.Engine.Port = port
	}
}

// WithAPIBind enables the HTTP API on the given address.
func WithAPIBind(bind string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Daemon.APIBind = bind
	}
}
