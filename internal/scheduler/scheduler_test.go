package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rchub/internal/events"
	"rchub/internal/jobs"
	"rchub/internal/logging"
)

type fakeRunner struct {
	mu      sync.Mutex
	nextID  uint64
	submits []jobs.SubmitRequest
	err     error
}

func (r *fakeRunner) Submit(_ context.Context, req jobs.SubmitRequest) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.nextID++
	r.submits = append(r.submits, req)
	return r.nextID, nil
}

func (r *fakeRunner) submitted() []jobs.SubmitRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]jobs.SubmitRequest(nil), r.submits...)
}

func newTestScheduler(runner JobRunner) (*Scheduler, *TaskCache, *jobs.Cache) {
	cache := NewTaskCache()
	jobCache := jobs.NewCache()
	s := New(cache, jobCache, runner, events.NewBus(logging.NewNop()), logging.NewNop())
	return s, cache, jobCache
}

func sampleTask() ScheduledTask {
	return ScheduledTask{
		Remote:         "gdrive",
		Backend:        "Local",
		Type:           TypeSync,
		CronExpression: "0 3 * * *",
		Source:         "gdrive:docs",
		Destination:    "/srv/docs",
	}
}

func TestValidateCronAcceptsFiveAndSixFields(t *testing.T) {
	for _, expr := range []string{"0 3 * * *", "30 0 3 * * *", "@hourly", "*/5 * * * *"} {
		if err := ValidateCron(expr); err != nil {
			t.Fatalf("ValidateCron(%q): %v", expr, err)
		}
	}
	for _, expr := range []string{"", "not a cron", "99 * * * *", "* * * *"} {
		if err := ValidateCron(expr); err == nil {
			t.Fatalf("ValidateCron(%q) should fail", expr)
		}
	}
}

func TestNextRunIsPure(t *testing.T) {
	after := time.Date(2026, 8, 23, 1, 0, 0, 0, time.UTC)
	next, err := NextRun("0 3 * * *", after)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	want := time.Date(2026, 8, 23, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestScheduleRejectsInvalidExpression(t *testing.T) {
	s, cache, _ := newTestScheduler(&fakeRunner{})
	task := sampleTask()
	task.CronExpression = "bogus"
	if err := s.Schedule(task); err == nil {
		t.Fatal("expected validation error")
	}
	if _, ok := cache.Get(TaskID("gdrive", TypeSync)); ok {
		t.Fatal("invalid task must not be cached")
	}
}

func TestScheduleDerivesIDAndNextRun(t *testing.T) {
	s, cache, _ := newTestScheduler(&fakeRunner{})
	if err := s.Schedule(sampleTask()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	task, ok := cache.Get("gdrive-sync")
	if !ok {
		t.Fatal("task not cached under derived id")
	}
	if task.Status != TaskEnabled {
		t.Fatalf("status = %s", task.Status)
	}
	if task.NextRun.IsZero() {
		t.Fatal("next run not computed")
	}
}

func TestTriggerSubmitsAndMarksRunning(t *testing.T) {
	runner := &fakeRunner{}
	s, cache, _ := newTestScheduler(runner)
	if err := s.Schedule(sampleTask()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	s.trigger("gdrive-sync")

	task, _ := cache.Get("gdrive-sync")
	if task.Status != TaskRunning {
		t.Fatalf("status = %s, want running", task.Status)
	}
	if task.RunCount != 1 || task.CurrentJobID == 0 {
		t.Fatalf("unexpected bookkeeping: %+v", task)
	}
	reqs := runner.submitted()
	if len(reqs) != 1 || reqs[0].Kind != "sync" || reqs[0].TaskID != "gdrive-sync" {
		t.Fatalf("unexpected submit: %+v", reqs)
	}
}

func TestTriggerSkipsWhenSameJobAlreadyRunning(t *testing.T) {
	runner := &fakeRunner{}
	s, _, jobCache := newTestScheduler(runner)
	if err := s.Schedule(sampleTask()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	jobCache.Put(jobs.Job{ID: 99, Remote: "gdrive", Kind: "sync", Status: jobs.StatusRunning})
	s.trigger("gdrive-sync")

	if len(runner.submitted()) != 0 {
		t.Fatal("trigger should skip while a matching job runs")
	}
}

func TestTriggerSkipsDisabledTask(t *testing.T) {
	runner := &fakeRunner{}
	s, _, _ := newTestScheduler(runner)
	if err := s.Schedule(sampleTask()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if _, err := s.Toggle("gdrive-sync"); err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	s.trigger("gdrive-sync")
	if len(runner.submitted()) != 0 {
		t.Fatal("disabled task must not trigger")
	}
}

func TestSubmitFailureMarksTaskFailed(t *testing.T) {
	runner := &fakeRunner{err: errors.New("daemon unreachable")}
	s, cache, _ := newTestScheduler(runner)
	if err := s.Schedule(sampleTask()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	s.trigger("gdrive-sync")

	task, _ := cache.Get("gdrive-sync")
	if task.Status != TaskFailed {
		t.Fatalf("status = %s, want failed", task.Status)
	}
	if task.LastError == "" {
		t.Fatal("last error not recorded")
	}
}

func TestJobTerminalSettlesTask(t *testing.T) {
	runner := &fakeRunner{}
	s, cache, _ := newTestScheduler(runner)
	if err := s.Schedule(sampleTask()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	s.trigger("gdrive-sync")
	task, _ := cache.Get("gdrive-sync")

	s.HandleJobTerminal(jobs.Job{ID: task.CurrentJobID, TaskID: "gdrive-sync", Status: jobs.StatusCompleted})

	task, _ = cache.Get("gdrive-sync")
	if task.Status != TaskEnabled {
		t.Fatalf("status = %s, want enabled", task.Status)
	}
	if task.SuccessCount != 1 || task.CurrentJobID != 0 {
		t.Fatalf("unexpected bookkeeping: %+v", task)
	}
	if task.NextRun.IsZero() {
		t.Fatal("next run not refreshed")
	}
}

func TestJobFailureSettlesTaskFailed(t *testing.T) {
	runner := &fakeRunner{}
	s, cache, _ := newTestScheduler(runner)
	if err := s.Schedule(sampleTask()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	s.trigger("gdrive-sync")
	task, _ := cache.Get("gdrive-sync")

	s.HandleJobTerminal(jobs.Job{ID: task.CurrentJobID, TaskID: "gdrive-sync", Status: jobs.StatusFailed, Error: "quota exceeded"})

	task, _ = cache.Get("gdrive-sync")
	if task.Status != TaskFailed || task.FailureCount != 1 {
		t.Fatalf("unexpected task state: %+v", task)
	}
	if task.LastError != "quota exceeded" {
		t.Fatalf("last error = %q", task.LastError)
	}
}

func TestStoppingTaskSettlesToDisabled(t *testing.T) {
	runner := &fakeRunner{}
	s, cache, _ := newTestScheduler(runner)
	if err := s.Schedule(sampleTask()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	s.trigger("gdrive-sync")

	// A toggle while running requests a stop.
	status, err := s.Toggle("gdrive-sync")
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if status != TaskStopping {
		t.Fatalf("status = %s, want stopping", status)
	}

	task, _ := cache.Get("gdrive-sync")
	s.HandleJobTerminal(jobs.Job{ID: task.CurrentJobID, TaskID: "gdrive-sync", Status: jobs.StatusStopped})

	task, _ = cache.Get("gdrive-sync")
	if task.Status != TaskDisabled {
		t.Fatalf("status = %s, want disabled", task.Status)
	}
	if !task.NextRun.IsZero() {
		t.Fatal("disabled task should have no next run")
	}
}

func TestToggleRoundTripRestoresSchedule(t *testing.T) {
	runner := &fakeRunner{}
	s, cache, _ := newTestScheduler(runner)
	if err := s.Schedule(sampleTask()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if _, err := s.Toggle("gdrive-sync"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	task, _ := cache.Get("gdrive-sync")
	if task.Status != TaskDisabled || !task.NextRun.IsZero() {
		t.Fatalf("unexpected disabled state: %+v", task)
	}

	if _, err := s.Toggle("gdrive-sync"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	task, _ = cache.Get("gdrive-sync")
	if task.Status != TaskEnabled || task.NextRun.IsZero() {
		t.Fatalf("unexpected enabled state: %+v", task)
	}
}
