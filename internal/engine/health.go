package engine

import (
	"context"
	"os/exec"
	"time"

	"rchub/internal/events"
	"rchub/internal/logging"
)

// Healthy reports whether the engine process is alive and its rc API answers.
// The client is captured under the lock so a concurrent UpdatePort rebinding
// it cannot race the probe.
func (s *Supervisor) Healthy(ctx context.Context) bool {
	s.mu.Lock()
	child := s.child
	client := s.client
	s.mu.Unlock()
	if child == nil || !child.alive() {
		return false
	}
	return s.probe(ctx, client) == nil
}

// RunHealthLoop periodically verifies the engine and restarts it when the
// process died or stopped answering. A missing binary is reported once per
// interval and waited out rather than spun on, since restarting cannot help
// until the operator fixes the path. Returns when ctx is cancelled or
// shutdown begins.
func (s *Supervisor) RunHealthLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.HealthInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		if s.shouldExit.Load() {
			return
		}
		if s.Healthy(ctx) {
			continue
		}

		if _, err := exec.LookPath(s.binaryName()); err != nil {
			s.setState(StateUnhealthy)
			s.bus.Emit(events.EnginePathError, "", "engine binary unavailable: "+err.Error())
			s.logger.Error("engine binary unavailable, waiting for it to return",
				logging.Error(err))
			continue
		}

		s.setState(StateRestarting)
		s.logger.Warn("engine unhealthy, restarting")
		if err := s.Start(ctx); err != nil {
			s.logger.Error("engine restart failed", logging.Error(err))
		}
	}
}

func (s *Supervisor) binaryName() string {
	if s.cfg.Binary == "" {
		return "rclone"
	}
	return s.cfg.Binary
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
