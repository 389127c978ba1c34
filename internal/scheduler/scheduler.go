package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"rchub/internal/events"
	"rchub/internal/jobs"
	"rchub/internal/logging"
	"rchub/internal/services"
)

// taskParser accepts standard five-field cron expressions with an optional
// leading seconds field, plus descriptors like @daily.
var taskParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateCron checks a cron expression without touching scheduler state.
func ValidateCron(expr string) error {
	if _, err := taskParser.Parse(expr); err != nil {
		return services.Wrap(services.ErrValidation, "scheduler", "cron", expr, err)
	}
	return nil
}

// NextRun computes the next execution after the given time for a cron
// expression. It is a pure function independent of any registered task.
func NextRun(expr string, after time.Time) (time.Time, error) {
	schedule, err := taskParser.Parse(expr)
	if err != nil {
		return time.Time{}, services.Wrap(services.ErrValidation, "scheduler", "cron", expr, err)
	}
	return schedule.Next(after), nil
}

// JobRunner submits transfer jobs. Implemented by the job monitor.
type JobRunner interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (uint64, error)
}

// Scheduler drives cron-based task execution. Tasks live in the TaskCache;
// the cron engine only holds entry handles that call back into trigger.
type Scheduler struct {
	cron    *cron.Cron
	cache   *TaskCache
	jobsLog *jobs.Cache
	runner  JobRunner
	bus     *events.Bus
	logger  *slog.Logger

	mu      sync.Mutex
	baseCtx context.Context
	started bool
}

// New constructs a scheduler.
func New(cache *TaskCache, jobCache *jobs.Cache, runner JobRunner, bus *events.Bus, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithParser(taskParser)),
		cache:   cache,
		jobsLog: jobCache,
		runner:  runner,
		bus:     bus,
		logger:  logging.NewComponentLogger(logger, "scheduler"),
		baseCtx: context.Background(),
	}
}

// Start begins executing registered cron entries.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.baseCtx = ctx
	s.cron.Start()
	s.started = true
	s.logger.Info("scheduler started", logging.Int("tasks", len(s.cache.List())))
}

// Stop halts the cron engine and waits briefly for in-flight triggers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	done := s.cron.Stop().Done()
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.logger.Warn("scheduler stop timed out waiting for triggers")
	}
}

// Schedule registers a task in the cache and, when enabled, with the cron
// engine. An invalid type or cron expression is rejected up front so it can
// never reach the engine.
func (s *Scheduler) Schedule(task ScheduledTask) error {
	if _, ok := ParseTaskType(string(task.Type)); !ok {
		return services.Wrap(services.ErrValidation, "scheduler", "schedule", "unknown task type "+string(task.Type), nil)
	}
	if err := ValidateCron(task.CronExpression); err != nil {
		return err
	}
	if task.ID == "" {
		task.ID = TaskID(task.Remote, task.Type)
	}
	if task.Status == "" {
		task.Status = TaskEnabled
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.cache.Get(task.ID); ok && existing.entryID != 0 {
		s.cron.Remove(existing.entryID)
	}

	switch task.Status {
	case TaskDisabled, TaskStopping:
		task.entryID = 0
		task.NextRun = time.Time{}
	default:
		// Enabled, failed, and running tasks keep firing on cadence; the
		// trigger itself skips a task whose job is still in flight.
		id := task.ID
		entryID, err := s.cron.AddFunc(task.CronExpression, func() { s.trigger(id) })
		if err != nil {
			return services.Wrap(services.ErrValidation, "scheduler", "schedule", task.CronExpression, err)
		}
		task.entryID = entryID
		if next, err := NextRun(task.CronExpression, time.Now()); err == nil {
			task.NextRun = next
		}
	}

	s.cache.Put(task)
	s.bus.Emit(events.SchedulerTaskChanged, task.Backend, "task scheduled: "+task.ID)
	return nil
}

// Unschedule removes the cron entry for a task, leaving the cache entry.
func (s *Scheduler) Unschedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unscheduleLocked(id)
}

func (s *Scheduler) unscheduleLocked(id string) {
	task, ok := s.cache.Get(id)
	if !ok {
		return
	}
	if task.entryID != 0 {
		s.cron.Remove(task.entryID)
	}
	s.cache.Update(id, func(t *ScheduledTask) {
		t.entryID = 0
		t.NextRun = time.Time{}
	})
}

// Remove drops a task from both the engine and the cache.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unscheduleLocked(id)
	s.cache.Remove(id)
	s.bus.Emit(events.SchedulerTaskChanged, "", "task removed: "+id)
}

// Reschedule re-registers a task after a status or expression change: the old
// entry is always removed, a new one added only when the task is enabled.
func (s *Scheduler) Reschedule(id string) error {
	task, ok := s.cache.Get(id)
	if !ok {
		return services.Wrap(services.ErrNotFound, "scheduler", "reschedule", "unknown task "+id, nil)
	}
	s.Unschedule(id)
	if task.Status == TaskDisabled || task.Status == TaskStopping {
		return nil
	}
	task.entryID = 0
	return s.Schedule(task)
}

// Toggle flips a task between enabled and disabled and syncs the engine.
func (s *Scheduler) Toggle(id string) (TaskStatus, error) {
	status, err := s.cache.Toggle(id)
	if err != nil {
		return "", err
	}
	if err := s.Reschedule(id); err != nil {
		return status, err
	}
	task, _ := s.cache.Get(id)
	s.bus.Emit(events.SchedulerTaskChanged, task.Backend, "task toggled: "+id)
	return status, nil
}

// Reload syncs every cached task with the cron engine, used after a backend
// switch restores a different task set.
func (s *Scheduler) Reload() {
	for _, task := range s.cache.List() {
		if err := s.Reschedule(task.ID); err != nil {
			s.logger.Warn("task reload failed",
				logging.String(logging.FieldTaskID, task.ID),
				logging.Error(err))
		}
	}
}

// trigger fires one task execution. A task whose previous job is still
// running for the same remote, type, and profile is skipped, not queued.
func (s *Scheduler) trigger(id string) {
	task, ok := s.cache.Get(id)
	if !ok {
		return
	}
	switch task.Status {
	case TaskDisabled, TaskRunning, TaskStopping:
		s.logger.Debug("trigger skipped",
			logging.String(logging.FieldTaskID, id),
			logging.String("status", string(task.Status)))
		return
	}
	if s.jobsLog.HasRunning(task.Remote, string(task.Type), task.Profile) {
		s.logger.Info("trigger skipped, job already running",
			logging.String(logging.FieldTaskID, id),
			logging.String(logging.FieldRemote, task.Remote))
		return
	}

	s.cache.Update(id, func(t *ScheduledTask) {
		t.Status = TaskRunning
		t.RunCount++
		t.LastRun = time.Now()
		t.LastError = ""
		t.CurrentJobID = 0
	})

	jobID, err := s.runner.Submit(s.baseCtx, jobs.SubmitRequest{
		Kind:        string(task.Type),
		Source:      task.Source,
		Destination: task.Destination,
		Remote:      task.Remote,
		Profile:     task.Profile,
		TaskID:      id,
		Args:        task.Args,
	})
	if err != nil {
		s.logger.Error("task submit failed",
			logging.String(logging.FieldTaskID, id),
			logging.Error(err))
		s.settle(id, TaskFailed, err.Error())
		return
	}

	s.cache.Update(id, func(t *ScheduledTask) {
		t.CurrentJobID = jobID
	})
	s.bus.Emit(events.SchedulerTaskChanged, task.Backend, "task running: "+id)
	s.logger.Info("task triggered",
		logging.String(logging.FieldTaskID, id),
		logging.Uint64(logging.FieldJobID, jobID))
}

// HandleJobTerminal settles task state when a linked job reaches a terminal
// status. Wired as the job monitor's terminal hook.
func (s *Scheduler) HandleJobTerminal(job jobs.Job) {
	if job.TaskID == "" {
		return
	}
	switch job.Status {
	case jobs.StatusCompleted:
		s.markSuccess(job.TaskID)
	case jobs.StatusFailed:
		s.markFailure(job.TaskID, job.Error)
	case jobs.StatusStopped:
		s.markStopped(job.TaskID)
	}
}

func (s *Scheduler) markSuccess(id string) {
	s.cache.Update(id, func(t *ScheduledTask) {
		t.SuccessCount++
	})
	s.settle(id, TaskEnabled, "")
}

func (s *Scheduler) markFailure(id string, errMsg string) {
	s.cache.Update(id, func(t *ScheduledTask) {
		t.FailureCount++
	})
	s.settle(id, TaskFailed, errMsg)
}

func (s *Scheduler) markStopped(id string) {
	s.settle(id, TaskEnabled, "")
}

// settle finalizes a run: a task asked to stop mid-run lands on disabled,
// everything else takes the given status. NextRun is refreshed from the
// expression.
func (s *Scheduler) settle(id string, status TaskStatus, errMsg string) {
	var backend string
	s.cache.Update(id, func(t *ScheduledTask) {
		if t.Status == TaskStopping {
			t.Status = TaskDisabled
		} else {
			t.Status = status
		}
		t.CurrentJobID = 0
		t.LastError = errMsg
		if t.Status == TaskDisabled {
			t.NextRun = time.Time{}
		} else if next, err := NextRun(t.CronExpression, time.Now()); err == nil {
			t.NextRun = next
		}
		backend = t.Backend
	})
	if task, ok := s.cache.Get(id); ok && task.Status == TaskDisabled {
		s.Unschedule(id)
	}
	s.bus.Emit(events.SchedulerTaskChanged, backend, "task settled: "+id)
}
