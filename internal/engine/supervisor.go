package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"rchub/internal/config"
	"rchub/internal/events"
	"rchub/internal/logging"
	"rchub/internal/rc"
	"rchub/internal/services"
)

// State describes the lifecycle of the managed rclone daemon.
type State string

const (
	StateStopped    State = "stopped"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateUnhealthy  State = "unhealthy"
	StateRestarting State = "restarting"
)

var (
	// ErrInvalidBinary marks a missing or non-executable rclone binary.
	ErrInvalidBinary = errors.New("rclone binary not found")
	// ErrPasswordRequired marks an encrypted rclone config with no usable password.
	ErrPasswordRequired = errors.New("rclone config is encrypted and requires a password")
	// ErrShuttingDown marks start attempts made after shutdown began.
	ErrShuttingDown = errors.New("engine is shutting down")
)

const (
	defaultReadyPoll = 500 * time.Millisecond
	probeTimeout     = 2 * time.Second
	quitTimeout      = 2 * time.Second
	portFreeTimeout  = 5 * time.Second
)

// Supervisor owns the local rclone rcd process: it spawns it, waits for the
// rc API to answer, restarts it when health checks fail, and tears it down on
// shutdown. Once shutdown begins no code path may bring the process back.
type Supervisor struct {
	cfg    config.Engine
	bus    *events.Bus
	logger *slog.Logger

	readyPoll  time.Duration
	shouldExit atomic.Bool

	mu     sync.Mutex
	addr   string
	client *rc.Client
	child  *child
	state  State
}

// Option customizes supervisor construction.
type Option func(*Supervisor)

// WithReadyPollInterval overrides how often readiness is probed during start.
func WithReadyPollInterval(interval time.Duration) Option {
	return func(s *Supervisor) {
		if interval > 0 {
			s.readyPoll = interval
		}
	}
}

// New constructs a supervisor for the engine described by cfg.
func New(cfg config.Engine, bus *events.Bus, logger *slog.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:       cfg,
		bus:       bus,
		logger:    logging.NewComponentLogger(logger, "engine"),
		readyPoll: defaultReadyPoll,
		addr:      fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		state:     StateStopped,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.client = s.newClient()
	return s
}

func (s *Supervisor) newClient() *rc.Client {
	opts := []rc.Option{}
	if s.cfg.Username != "" {
		opts = append(opts, rc.WithAuth(s.cfg.Username, s.cfg.Password))
	}
	return rc.New(s.addr, opts...)
}

// Client returns an rc client bound to the engine's current address.
func (s *Supervisor) Client() *rc.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Addr returns the host:port the engine binds to.
func (s *Supervisor) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ShouldExit reports whether shutdown has begun. The flag is a one-way latch.
func (s *Supervisor) ShouldExit() bool {
	return s.shouldExit.Load()
}

// Start launches the rclone daemon and blocks until its rc API answers or the
// ready timeout expires. When a healthy process is already running the call
// is a no-op. Any stale process bound to our address is terminated first.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.shouldExit.Load() {
		return services.Wrap(services.ErrUnavailable, "engine", "start", "", ErrShuttingDown)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Supervisor) startLocked(ctx context.Context) error {
	if s.child != nil && s.child.alive() && s.probe(ctx, s.client) == nil {
		s.state = StateRunning
		return nil
	}

	s.state = StateStarting
	binary, err := resolveBinary(s.cfg.Binary)
	if err != nil {
		s.state = StateStopped
		s.bus.Emit(events.EnginePathError, "", err.Error())
		return services.Wrap(services.ErrConfiguration, "engine", "start", s.cfg.Binary, err)
	}

	cleaned := s.reapChildLocked()
	childPID := 0
	if s.child != nil {
		childPID = s.child.pid()
	}
	if killOrphans(s.addr, childPID, s.logger) || cleaned {
		if err := waitPortFree(s.addr, portFreeTimeout); err != nil {
			s.logger.Warn("engine port still bound after cleanup",
				logging.String("addr", s.addr),
				logging.Error(err))
		}
	}

	s.logger.Info("starting engine",
		logging.String("binary", binary),
		logging.String("addr", s.addr))
	child, err := spawn(binary, s.buildArgs(), s.env())
	if err != nil {
		s.state = StateStopped
		s.bus.Emit(events.EngineFailed, "", err.Error())
		return services.Wrap(services.ErrUnavailable, "engine", "start", "spawn", err)
	}
	s.child = child

	if err := s.waitReady(ctx, child); err != nil {
		child.terminate(quitTimeout)
		s.child = nil
		s.state = StateStopped
		if errors.Is(err, ErrPasswordRequired) {
			s.bus.Emit(events.EnginePasswordError, "", err.Error())
		} else {
			s.bus.Emit(events.EngineFailed, "", err.Error())
		}
		return err
	}

	s.state = StateRunning
	s.bus.Emit(events.EngineReady, "", "engine ready on "+s.addr)
	s.logger.Info("engine ready",
		logging.String("addr", s.addr),
		logging.Int("pid", child.pid()))
	return nil
}

// reapChildLocked terminates any previous child and reports whether one was
// actually running.
func (s *Supervisor) reapChildLocked() bool {
	if s.child == nil {
		return false
	}
	wasAlive := s.child.alive()
	s.child.terminate(quitTimeout)
	s.child = nil
	return wasAlive
}

func (s *Supervisor) buildArgs() []string {
	args := []string{"rcd", "--rc-addr", s.addr}
	if s.cfg.Username != "" {
		args = append(args, "--rc-user", s.cfg.Username, "--rc-pass", s.cfg.Password)
	} else {
		args = append(args, "--rc-no-auth")
	}
	if s.cfg.ConfigPath != "" {
		args = append(args, "--config", s.cfg.ConfigPath)
	}
	return args
}

func (s *Supervisor) env() []string {
	env := os.Environ()
	if s.cfg.ConfigPassword != "" {
		env = append(env, "RCLONE_CONFIG_PASS="+s.cfg.ConfigPassword)
	}
	return env
}

// waitReady polls the version endpoint until the daemon answers. A child that
// exits during the wait fails the start immediately, with its stderr examined
// for the encrypted-config case so callers can surface the right remedy.
func (s *Supervisor) waitReady(ctx context.Context, child *child) error {
	timeout := time.Duration(s.cfg.ReadyTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			return services.Wrap(services.ErrTimeout, "engine", "start", "", ctx.Err())
		case <-child.done:
			stderr := child.stderrText()
			if isEncryptedConfigError(stderr) {
				return services.Wrap(services.ErrConfiguration, "engine", "start", firstLine(stderr), ErrPasswordRequired)
			}
			return services.Wrap(services.ErrUnavailable, "engine", "start",
				"process exited during startup: "+firstLine(stderr), child.waitResult())
		default:
		}

		if s.probe(ctx, s.client) == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return services.Wrap(services.ErrTimeout, "engine", "start",
				fmt.Sprintf("not ready after %s", timeout), nil)
		}

		select {
		case <-ctx.Done():
			return services.Wrap(services.ErrTimeout, "engine", "start", "", ctx.Err())
		case <-child.done:
			// handled at the top of the loop
		case <-time.After(s.readyPoll):
		}
	}
}

func (s *Supervisor) probe(ctx context.Context, client *rc.Client) error {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	_, err := client.Version(probeCtx)
	return err
}

// UpdatePort moves the engine to a new port: the current process is stopped,
// the rc client rebound, and a fresh process started.
func (s *Supervisor) UpdatePort(ctx context.Context, port int) error {
	if s.shouldExit.Load() {
		return services.Wrap(services.ErrUnavailable, "engine", "update-port", "", ErrShuttingDown)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reapChildLocked()
	s.cfg.Port = port
	s.addr = fmt.Sprintf("%s:%d", s.cfg.Host, port)
	s.client = s.newClient()
	s.logger.Info("engine port updated", logging.String("addr", s.addr))
	return s.startLocked(ctx)
}

// Shutdown latches the exit flag and stops the process: a polite core/quit
// first, escalating to SIGKILL when the process lingers. After Shutdown no
// Start or health restart will revive the engine.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.shouldExit.Store(true)

	s.mu.Lock()
	defer s.mu.Unlock()

	child := s.child
	s.child = nil
	s.state = StateStopped
	if child == nil || !child.alive() {
		return
	}

	quitCtx, cancel := context.WithTimeout(ctx, quitTimeout)
	if err := s.client.Quit(quitCtx); err != nil {
		s.logger.Debug("engine quit request failed", logging.Error(err))
	}
	cancel()

	for i := 0; i < 20 && child.alive(); i++ {
		time.Sleep(100 * time.Millisecond)
	}
	if child.alive() {
		s.logger.Warn("engine did not exit after quit, killing", logging.Int("pid", child.pid()))
		child.terminate(quitTimeout)
	}
	s.logger.Info("engine stopped")
}

func isEncryptedConfigError(stderr string) bool {
	lowered := strings.ToLower(stderr)
	if strings.Contains(lowered, "couldn't decrypt configuration") {
		return true
	}
	return strings.Contains(lowered, "encrypted") && strings.Contains(lowered, "password")
}

func firstLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return text[:idx]
	}
	return text
}
