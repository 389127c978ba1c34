package remotestate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"rchub/internal/events"
	"rchub/internal/logging"
	"rchub/internal/rc"
)

// ClientProvider yields the rc client and name of the active backend.
type ClientProvider interface {
	ActiveClient() *rc.Client
	ActiveName() string
}

// Watcher runs one reconciliation check on an interval. Start is idempotent
// and Stop is cooperative: a tick in flight finishes before the loop exits.
type Watcher struct {
	name     string
	interval time.Duration
	check    func(ctx context.Context)
	logger   *slog.Logger

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher constructs a watcher around a check function.
func NewWatcher(name string, interval time.Duration, logger *slog.Logger, check func(ctx context.Context)) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		name:     name,
		interval: interval,
		check:    check,
		logger:   logging.NewComponentLogger(logger, "watcher-"+name),
	}
}

// Start launches the watch loop. It returns false if already running.
func (w *Watcher) Start(ctx context.Context) bool {
	if !w.running.CompareAndSwap(false, true) {
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		w.logger.Debug("watcher started", logging.Duration("interval", w.interval))
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
			}
			if !w.running.Load() {
				return
			}
			w.check(loopCtx)
		}
	}()
	return true
}

// Stop signals the loop to exit and waits for it.
func (w *Watcher) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.wg.Wait()
	w.logger.Debug("watcher stopped")
}

// Running reports whether the watch loop is active.
func (w *Watcher) Running() bool {
	return w.running.Load()
}

// ForceCheck runs one reconciliation synchronously, outside the loop cadence.
func (w *Watcher) ForceCheck(ctx context.Context) {
	w.check(ctx)
}

// NewMountWatcher builds a watcher that reconciles mount state against the
// active backend. A fetch failure logs and skips the tick; state is replaced
// and an event emitted only when the reconciled set differs.
func NewMountWatcher(cache *Cache, clients ClientProvider, bus *events.Bus, interval time.Duration, logger *slog.Logger) *Watcher {
	log := logging.NewComponentLogger(logger, "watcher-mounts")
	check := func(ctx context.Context) {
		client := clients.ActiveClient()
		if client == nil {
			return
		}
		reported, err := client.ListMounts(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("mount fetch failed, skipping tick", logging.Error(err))
			}
			return
		}
		mounts := make([]MountPoint, 0, len(reported))
		for _, m := range reported {
			mounts = append(mounts, MountPoint{Fs: m.Fs, MountPoint: m.MountPoint})
		}
		if cache.UpdateMountsIfChanged(mounts) {
			bus.Emit(events.MountStateChanged, clients.ActiveName(), "mount state changed")
		}
	}
	return NewWatcher("mounts", interval, logger, check)
}

// NewServeWatcher builds the serve counterpart of NewMountWatcher.
func NewServeWatcher(cache *Cache, clients ClientProvider, bus *events.Bus, interval time.Duration, logger *slog.Logger) *Watcher {
	log := logging.NewComponentLogger(logger, "watcher-serves")
	check := func(ctx context.Context) {
		client := clients.ActiveClient()
		if client == nil {
			return
		}
		reported, err := client.ListServes(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("serve fetch failed, skipping tick", logging.Error(err))
			}
			return
		}
		serves := make([]Serve, 0, len(reported))
		for _, s := range reported {
			serves = append(serves, Serve{ID: s.ID, Addr: s.Addr, Params: s.Params})
		}
		if cache.UpdateServesIfChanged(serves) {
			bus.Emit(events.ServeStateChanged, clients.ActiveName(), "serve state changed")
		}
	}
	return NewWatcher("serves", interval, logger, check)
}
