package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"rchub/internal/events"
	"rchub/internal/logging"
	"rchub/internal/rc"
	"rchub/internal/services"
)

const (
	defaultPollInterval = time.Second
	defaultMaxErrors    = 3
)

// ClientProvider yields the rc client and name of the active backend at
// submission time. Monitors keep the client they were started with, since a
// job belongs to the backend it was submitted on.
type ClientProvider interface {
	ActiveClient() *rc.Client
	ActiveName() string
}

// Recorder persists terminal job outcomes. Implemented by the history store.
type Recorder interface {
	RecordTerminal(ctx context.Context, job Job)
}

// SubmitRequest describes an async transfer to start.
type SubmitRequest struct {
	Kind        string
	Source      string
	Destination string
	Remote      string
	Profile     string
	TaskID      string
	Args        map[string]any
}

// Monitor submits async jobs and polls each one until it reaches a terminal
// status. Each job gets its own monitor goroutine; polls for a single job are
// sequential while different jobs poll concurrently.
type Monitor struct {
	cache    *Cache
	clients  ClientProvider
	bus      *events.Bus
	logger   *slog.Logger
	recorder Recorder
	terminal func(Job)

	pollInterval time.Duration
	maxErrors    int

	wg sync.WaitGroup
}

// MonitorOption customizes monitor construction.
type MonitorOption func(*Monitor)

// WithPollInterval overrides the per-job poll interval.
func WithPollInterval(interval time.Duration) MonitorOption {
	return func(m *Monitor) {
		if interval > 0 {
			m.pollInterval = interval
		}
	}
}

// WithMaxErrors overrides the consecutive poll failure tolerance.
func WithMaxErrors(limit int) MonitorOption {
	return func(m *Monitor) {
		if limit > 0 {
			m.maxErrors = limit
		}
	}
}

// WithRecorder attaches a terminal outcome recorder.
func WithRecorder(recorder Recorder) MonitorOption {
	return func(m *Monitor) {
		m.recorder = recorder
	}
}

// NewMonitor constructs a job monitor.
func NewMonitor(cache *Cache, clients ClientProvider, bus *events.Bus, logger *slog.Logger, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		cache:        cache,
		clients:      clients,
		bus:          bus,
		logger:       logging.NewComponentLogger(logger, "jobs"),
		pollInterval: defaultPollInterval,
		maxErrors:    defaultMaxErrors,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetTerminalHook registers a callback invoked once per terminal transition.
// The scheduler uses it to settle task state.
func (m *Monitor) SetTerminalHook(hook func(Job)) {
	m.terminal = hook
}

// Submit starts an async operation on the active backend, records it in the
// cache, and spawns a monitor goroutine for it.
func (m *Monitor) Submit(ctx context.Context, req SubmitRequest) (uint64, error) {
	if !ValidKind(req.Kind) {
		return 0, services.Wrap(services.ErrValidation, "jobs", "submit", "unknown job kind "+req.Kind, nil)
	}
	client := m.clients.ActiveClient()
	if client == nil {
		return 0, services.Wrap(services.ErrUnavailable, "jobs", "submit", "no active backend client", nil)
	}
	backend := m.clients.ActiveName()
	group := "rchub/" + uuid.NewString()

	jobID, err := client.StartOperation(ctx, req.Kind, req.Source, req.Destination, group, req.Args)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "jobs", "submit", req.Kind, err)
	}

	job := Job{
		ID:          jobID,
		Kind:        req.Kind,
		Source:      req.Source,
		Destination: req.Destination,
		Remote:      req.Remote,
		Profile:     req.Profile,
		Group:       group,
		Backend:     backend,
		TaskID:      req.TaskID,
		Status:      StatusRunning,
		StartedAt:   time.Now(),
	}
	m.cache.Put(job)
	m.bus.Emit(events.JobCacheChanged, backend, "job started")
	m.logger.Info("job submitted",
		logging.Uint64(logging.FieldJobID, jobID),
		logging.String("kind", req.Kind),
		logging.String(logging.FieldRemote, req.Remote),
		logging.String(logging.FieldBackend, backend))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.watch(ctx, client, backend, jobID, group)
	}()
	return jobID, nil
}

// Stop marks a job stopped in the cache, then asks the daemon to stop it.
// The cache transition happens first so the monitor goroutine exits even if
// the daemon call fails. A daemon response of "job not found" counts as a
// successful stop: the job is simply gone already.
func (m *Monitor) Stop(ctx context.Context, jobID uint64) error {
	job, ok := m.cache.Get(jobID)
	if !ok {
		return services.Wrap(services.ErrNotFound, "jobs", "stop", "unknown job", nil)
	}
	if m.cache.MarkTerminal(jobID, StatusStopped, "stopped by user") {
		m.finishSideEffects(ctx, jobID)
	}

	client := m.clients.ActiveClient()
	if client == nil {
		return nil
	}
	if err := client.JobStop(ctx, jobID); err != nil && !rc.IsJobNotFound(err) {
		m.logger.Warn("daemon job stop failed",
			logging.Uint64(logging.FieldJobID, jobID),
			logging.String(logging.FieldBackend, job.Backend),
			logging.Error(err))
		return services.Wrap(services.ErrTransient, "jobs", "stop", "daemon stop", err)
	}
	return nil
}

// Wait blocks until every monitor goroutine has exited.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) watch(ctx context.Context, client *rc.Client, backend string, jobID uint64, group string) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		current, ok := m.cache.Get(jobID)
		if !ok || current.Status.Terminal() {
			return
		}

		status, stats, err := m.poll(ctx, client, jobID, group)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutive++
			m.logger.Debug("job poll failed",
				logging.Uint64(logging.FieldJobID, jobID),
				logging.Int("consecutive_errors", consecutive),
				logging.Error(err))
			if consecutive >= m.maxErrors {
				m.finish(ctx, backend, jobID, StatusFailed, "too many consecutive errors monitoring job")
				return
			}
			continue
		}
		consecutive = 0

		m.cache.SetStats(jobID, stats)

		if !status.Finished {
			continue
		}
		switch {
		case status.Error != "":
			m.finish(ctx, backend, jobID, StatusFailed, status.Error)
		case status.Success:
			m.finish(ctx, backend, jobID, StatusCompleted, "")
		default:
			m.finish(ctx, backend, jobID, StatusFailed, "job finished without success or error detail")
		}
		return
	}
}

// poll fetches job status and transfer stats concurrently.
func (m *Monitor) poll(ctx context.Context, client *rc.Client, jobID uint64, group string) (rc.JobStatus, json.RawMessage, error) {
	var (
		status rc.JobStatus
		stats  json.RawMessage
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		status, err = client.JobStatus(gctx, jobID)
		return err
	})
	g.Go(func() error {
		var err error
		stats, err = client.CoreStats(gctx, group)
		return err
	})
	if err := g.Wait(); err != nil {
		return rc.JobStatus{}, nil, err
	}
	return status, stats, nil
}

func (m *Monitor) finish(ctx context.Context, backend string, jobID uint64, status Status, errMsg string) {
	if !m.cache.MarkTerminal(jobID, status, errMsg) {
		return
	}
	m.bus.Emit(events.JobCacheChanged, backend, "job "+string(status))
	attrs := []logging.Attr{
		logging.Uint64(logging.FieldJobID, jobID),
		logging.String("status", string(status)),
		logging.String(logging.FieldBackend, backend),
	}
	if errMsg != "" {
		attrs = append(attrs, logging.String("error", errMsg))
	}
	if status == StatusFailed {
		m.logger.Error("job failed", logging.Args(attrs...)...)
	} else {
		m.logger.Info("job finished", logging.Args(attrs...)...)
	}
	m.finishSideEffects(ctx, jobID)
}

func (m *Monitor) finishSideEffects(ctx context.Context, jobID uint64) {
	job, ok := m.cache.Get(jobID)
	if !ok {
		return
	}
	if m.recorder != nil {
		m.recorder.RecordTerminal(ctx, job)
	}
	if m.terminal != nil {
		m.terminal(job)
	}
}
