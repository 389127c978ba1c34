package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"rchub/internal/backend"
	"rchub/internal/config"
	"rchub/internal/engine"
	"rchub/internal/events"
	"rchub/internal/history"
	"rchub/internal/jobs"
	"rchub/internal/logging"
	"rchub/internal/notifications"
	"rchub/internal/remotestate"
	"rchub/internal/scheduler"
	"rchub/internal/services"
)

// Daemon is the composition root: it owns the engine supervisor, backend
// registry, job monitor, reconciliation watchers, scheduler, history store,
// and notification forwarding, and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	bus      *events.Bus
	engine   *engine.Supervisor
	backends *backend.Manager
	jobCache *jobs.Cache
	monitor  *jobs.Monitor
	remote   *remotestate.Cache
	mounts   *remotestate.Watcher
	serves   *remotestate.Watcher
	tasks    *scheduler.TaskCache
	sched    *scheduler.Scheduler
	store    *history.Store
	notifier notifications.Service
	api      *apiServer
	logPath  string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool                `json:"running"`
	PID           int                 `json:"pid"`
	ActiveBackend string              `json:"activeBackend"`
	EngineState   string              `json:"engineState"`
	EngineAddr    string              `json:"engineAddr"`
	Jobs          map[string]int      `json:"jobs"`
	Tasks         scheduler.TaskStats `json:"tasks"`
	Remotes       int                 `json:"remotes"`
	Mounts        int                 `json:"mounts"`
	Serves        int                 `json:"serves"`
	LockFilePath  string              `json:"lockFilePath"`
	SocketPath    string              `json:"socketPath"`
	HistoryDBPath string              `json:"historyDbPath,omitempty"`
}

// historyRecorder adapts the history store to the monitor's recorder hook,
// which must not fail a job over a bookkeeping error.
type historyRecorder struct {
	store  *history.Store
	logger *slog.Logger
}

func (r *historyRecorder) RecordTerminal(ctx context.Context, job jobs.Job) {
	if err := r.store.RecordTerminal(ctx, job); err != nil {
		r.logger.Warn("history record failed",
			logging.Uint64(logging.FieldJobID, job.ID),
			logging.Error(err))
	}
}

// New constructs a daemon with all components wired but nothing running.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	bus := events.NewBus(logger)
	eng := engine.New(cfg.Engine, bus, logger)

	jobCache := jobs.NewCache()
	remoteCache := remotestate.NewCache()
	taskCache := scheduler.NewTaskCache()
	backends := backend.NewManager(eng, jobCache, remoteCache, taskCache, bus, logger)

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		bus:      bus,
		engine:   eng,
		backends: backends,
		jobCache: jobCache,
		remote:   remoteCache,
		tasks:    taskCache,
		notifier: notifications.NewService(cfg),
		logPath:  filepath.Join(cfg.Daemon.LogDir, "rchubd.log"),
		lockPath: filepath.Join(cfg.Daemon.LogDir, "rchubd.lock"),
	}
	d.lock = flock.New(d.lockPath)

	monitorOpts := []jobs.MonitorOption{
		jobs.WithPollInterval(time.Duration(cfg.Jobs.PollInterval) * time.Second),
		jobs.WithMaxErrors(cfg.Jobs.MaxMonitorErrors),
	}
	if cfg.History.Enabled {
		store, err := history.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("open history store: %w", err)
		}
		d.store = store
		monitorOpts = append(monitorOpts, jobs.WithRecorder(&historyRecorder{store: store, logger: d.logger}))
	}

	d.monitor = jobs.NewMonitor(jobCache, backends, bus, logger, monitorOpts...)
	d.sched = scheduler.New(taskCache, jobCache, d.monitor, bus, logger)
	d.monitor.SetTerminalHook(d.onJobTerminal)

	d.mounts = remotestate.NewMountWatcher(remoteCache, backends, bus,
		time.Duration(cfg.Watchers.MountInterval)*time.Second, logger)
	d.serves = remotestate.NewServeWatcher(remoteCache, backends, bus,
		time.Duration(cfg.Watchers.ServeInterval)*time.Second, logger)

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the instance lock, brings the engine up, verifies backend
// connectivity, primes the caches, and launches the watchers, scheduler,
// health loop, and notification forwarder.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another rchub daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	if err := d.engine.Start(d.ctx); err != nil {
		// The daemon stays up: fallback and the health loop handle recovery.
		d.logger.Error("engine start failed", logging.Error(err))
	}

	readyTimeout := time.Duration(d.cfg.Engine.ReadyTimeout) * time.Second
	if err := d.backends.EnsureConnectivityOrFallback(d.ctx, d.engine, readyTimeout); err != nil {
		d.logger.Warn("connectivity check degraded", logging.Error(err))
	}
	if err := d.refreshLocked(d.ctx); err != nil {
		d.logger.Warn("initial refresh failed", logging.Error(err))
	}

	d.mounts.Start(d.ctx)
	d.serves.Start(d.ctx)
	d.sched.Start(d.ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.engine.RunHealthLoop(d.ctx)
	}()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.forwardNotifications(d.ctx)
	}()
	if d.store != nil && d.cfg.History.RetentionDays > 0 {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.pruneHistoryLoop(d.ctx)
		}()
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.backends.CheckOtherBackends(d.ctx)
	}()

	if err := d.api.start(d.ctx); err != nil {
		d.logger.Error("api server start failed", logging.Error(err))
	}

	d.running.Store(true)
	d.logger.Info("rchub daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldBackend, d.backends.ActiveName()))
	return nil
}

// Stop shuts everything down in reverse dependency order and releases the
// instance lock. The engine process is terminated last so in-flight job
// stops can still reach it.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	d.sched.Stop()
	d.mounts.Stop()
	d.serves.Stop()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.monitor.Wait()
	d.wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	d.engine.Shutdown(shutdownCtx)
	cancel()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("rchub daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Bus exposes the event bus for subscribers like the IPC event stream.
func (d *Daemon) Bus() *events.Bus {
	return d.bus
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(context.Context) Status {
	jobStats := map[string]int{}
	for status, count := range d.jobCache.Stats() {
		jobStats[string(status)] = count
	}
	status := Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		ActiveBackend: d.backends.ActiveName(),
		EngineState:   string(d.engine.State()),
		EngineAddr:    d.engine.Addr(),
		Jobs:          jobStats,
		Tasks:         d.tasks.Stats(),
		Remotes:       len(d.remote.Remotes()),
		Mounts:        len(d.remote.Mounts()),
		Serves:        len(d.remote.Serves()),
		LockFilePath:  d.lockPath,
		SocketPath:    d.cfg.Daemon.SocketPath,
	}
	if d.store != nil {
		status.HistoryDBPath = d.store.Path()
	}
	return status
}

// Backends lists the registered backends.
func (d *Daemon) Backends() []backend.Backend {
	return d.backends.List()
}

// AddBackend registers a remote backend.
func (d *Daemon) AddBackend(b backend.Backend) error {
	return d.backends.Add(b)
}

// UpdateBackend replaces a remote backend's connection details.
func (d *Daemon) UpdateBackend(b backend.Backend) error {
	return d.backends.Update(b)
}

// RemoveBackend drops a remote backend.
func (d *Daemon) RemoveBackend(name string) error {
	return d.backends.Remove(name)
}

// SwitchBackend activates a different backend and rebuilds the active view:
// task schedules reload from the restored cache, then fresh state is pulled
// from the new daemon.
func (d *Daemon) SwitchBackend(ctx context.Context, name string) error {
	if err := d.backends.Switch(name); err != nil {
		return err
	}
	d.sched.Reload()
	if err := d.refreshLocked(ctx); err != nil {
		d.logger.Warn("refresh after switch failed",
			logging.String(logging.FieldBackend, name),
			logging.Error(err))
	}
	return nil
}

// CheckBackends probes all inactive backends and records their status.
func (d *Daemon) CheckBackends(ctx context.Context) []backend.Backend {
	d.backends.CheckOtherBackends(ctx)
	return d.backends.List()
}

// Jobs returns the tracked jobs for the active backend, newest first.
func (d *Daemon) Jobs() []jobs.Job {
	return d.jobCache.List()
}

// Job returns one tracked job.
func (d *Daemon) Job(id uint64) (jobs.Job, bool) {
	return d.jobCache.Get(id)
}

// SubmitJob starts a manual transfer on the active backend.
func (d *Daemon) SubmitJob(ctx context.Context, req jobs.SubmitRequest) (uint64, error) {
	if _, ok := scheduler.ParseTaskType(req.Kind); !ok {
		return 0, services.Wrap(services.ErrValidation, "daemon", "submit", "unknown operation "+req.Kind, nil)
	}
	if req.Source == "" || req.Destination == "" {
		return 0, services.Wrap(services.ErrValidation, "daemon", "submit", "source and destination are required", nil)
	}
	return d.monitor.Submit(ctx, req)
}

// StopJob stops a running job.
func (d *Daemon) StopJob(ctx context.Context, id uint64) error {
	return d.monitor.Stop(ctx, id)
}

// Remotes returns the remote names of the active backend.
func (d *Daemon) Remotes() []string {
	return d.remote.Remotes()
}

// RemoteConfig returns one remote's config blob.
func (d *Daemon) RemoteConfig(remote string) (json.RawMessage, bool) {
	return d.remote.Config(remote)
}

// Mounts returns the reconciled mount points.
func (d *Daemon) Mounts() []remotestate.MountPoint {
	return d.remote.Mounts()
}

// Serves returns the reconciled serve instances.
func (d *Daemon) Serves() []remotestate.Serve {
	return d.remote.Serves()
}

// Tasks returns the scheduled tasks for the active backend.
func (d *Daemon) Tasks() []scheduler.ScheduledTask {
	return d.tasks.List()
}

// ToggleTask flips a task between enabled and disabled; a running task is
// asked to stop.
func (d *Daemon) ToggleTask(id string) (scheduler.TaskStatus, error) {
	return d.sched.Toggle(id)
}

// ValidateCron checks a cron expression and computes its next run time.
func (d *Daemon) ValidateCron(expr string) (time.Time, error) {
	if err := scheduler.ValidateCron(expr); err != nil {
		return time.Time{}, err
	}
	return scheduler.NextRun(expr, time.Now())
}

// History lists recorded terminal jobs.
func (d *Daemon) History(ctx context.Context, filter history.Filter) ([]jobs.Job, error) {
	if d.store == nil {
		return nil, services.Wrap(services.ErrConfiguration, "daemon", "history", "history store disabled", nil)
	}
	return d.store.List(ctx, filter)
}

// Refresh re-pulls all state from the active backend and reconciles
// immediately instead of waiting for the next watcher tick.
func (d *Daemon) Refresh(ctx context.Context) error {
	return d.refreshLocked(ctx)
}

func (d *Daemon) refreshLocked(ctx context.Context) error {
	if err := d.backends.RefreshActive(ctx); err != nil {
		return err
	}
	d.sched.SyncFromRemotes(d.backends.ActiveName(), d.remote.Configs())
	return nil
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg.Notifications.NtfyTopic == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// onJobTerminal runs once per job reaching a terminal status: the scheduler
// settles its task and notifications go out per category.
func (d *Daemon) onJobTerminal(job jobs.Job) {
	d.sched.HandleJobTerminal(job)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var err error
	switch job.Status {
	case jobs.StatusCompleted:
		err = d.notifier.NotifyJobCompleted(ctx, job)
	case jobs.StatusFailed:
		err = d.notifier.NotifyJobFailed(ctx, job)
		if err == nil && job.TaskID != "" {
			err = d.notifier.NotifyTaskFailed(ctx, job.TaskID, job.Error)
		}
	}
	if err != nil {
		d.logger.Debug("job notification failed",
			logging.Uint64(logging.FieldJobID, job.ID),
			logging.Error(err))
	}
}

// forwardNotifications relays engine and fallback events to the notifier.
func (d *Daemon) forwardNotifications(ctx context.Context) {
	ch, cancel := d.bus.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			var err error
			switch evt.Type {
			case events.EngineFailed, events.EnginePathError, events.EnginePasswordError:
				err = d.notifier.NotifyEngineFailure(ctx, evt.Message)
			case events.BackendFallback:
				err = d.notifier.NotifyBackendFallback(ctx, evt.Backend)
			default:
				continue
			}
			if err != nil && ctx.Err() == nil {
				d.logger.Debug("event notification failed",
					logging.String(logging.FieldEventType, string(evt.Type)),
					logging.Error(err))
			}
		}
	}
}

// pruneHistoryLoop trims old history rows once at start and twice daily.
func (d *Daemon) pruneHistoryLoop(ctx context.Context) {
	retention := time.Duration(d.cfg.History.RetentionDays) * 24 * time.Hour
	prune := func() {
		removed, err := d.store.Prune(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				d.logger.Warn("history prune failed", logging.Error(err))
			}
			return
		}
		if removed > 0 {
			d.logger.Info("history pruned", logging.Int64("removed", removed))
		}
	}

	prune()
	ticker := time.NewTicker(12 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
