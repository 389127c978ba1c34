package scheduler

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"rchub/internal/services"
)

// TaskType is the transfer operation a scheduled task performs.
type TaskType string

const (
	TypeCopy   TaskType = "copy"
	TypeSync   TaskType = "sync"
	TypeMove   TaskType = "move"
	TypeBisync TaskType = "bisync"
)

var taskTypeSet = map[TaskType]struct{}{
	TypeCopy:   {},
	TypeSync:   {},
	TypeMove:   {},
	TypeBisync: {},
}

// ParseTaskType normalizes a string into a known TaskType.
func ParseTaskType(value string) (TaskType, bool) {
	taskType := TaskType(strings.ToLower(strings.TrimSpace(value)))
	_, ok := taskTypeSet[taskType]
	return taskType, ok
}

// TaskStatus is the lifecycle state of a scheduled task.
type TaskStatus string

const (
	TaskEnabled  TaskStatus = "enabled"
	TaskDisabled TaskStatus = "disabled"
	TaskRunning  TaskStatus = "running"
	TaskStopping TaskStatus = "stopping"
	TaskFailed   TaskStatus = "failed"
)

// ScheduledTask is one cron-driven transfer definition. The task id is
// derived from the remote and operation type, so each remote carries at most
// one task per type.
type ScheduledTask struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Backend        string         `json:"backend"`
	Remote         string         `json:"remote"`
	Profile        string         `json:"profile,omitempty"`
	Type           TaskType       `json:"type"`
	CronExpression string         `json:"cron_expression"`
	Status         TaskStatus     `json:"status"`
	Source         string         `json:"source"`
	Destination    string         `json:"destination"`
	Args           map[string]any `json:"args,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastRun        time.Time      `json:"last_run,omitempty"`
	NextRun        time.Time      `json:"next_run,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	CurrentJobID   uint64         `json:"current_job_id,omitempty"`
	RunCount       int            `json:"run_count"`
	SuccessCount   int            `json:"success_count"`
	FailureCount   int            `json:"failure_count"`

	entryID cron.EntryID
}

// TaskID builds the canonical task id for a remote and operation type.
func TaskID(remote string, taskType TaskType) string {
	return remote + "-" + string(taskType)
}

// TaskStats aggregates task counts by status.
type TaskStats struct {
	Total    int `json:"total"`
	Enabled  int `json:"enabled"`
	Disabled int `json:"disabled"`
	Running  int `json:"running"`
	Failed   int `json:"failed"`
}

// TaskCache is the in-memory registry of scheduled tasks.
type TaskCache struct {
	mu    sync.RWMutex
	tasks map[string]*ScheduledTask
}

// NewTaskCache constructs an empty task cache.
func NewTaskCache() *TaskCache {
	return &TaskCache{tasks: make(map[string]*ScheduledTask)}
}

// Put inserts or replaces a task.
func (c *TaskCache) Put(task ScheduledTask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := task
	c.tasks[task.ID] = &stored
}

// Get returns a copy of the task with the given id.
func (c *TaskCache) Get(id string) (ScheduledTask, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	task, ok := c.tasks[id]
	if !ok {
		return ScheduledTask{}, false
	}
	return *task, true
}

// List returns all tasks ordered by id.
func (c *TaskCache) List() []ScheduledTask {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ScheduledTask, 0, len(c.tasks))
	for _, task := range c.tasks {
		out = append(out, *task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Update applies fn to the stored task under the lock. It returns false when
// the task does not exist.
func (c *TaskCache) Update(id string, fn func(*ScheduledTask)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[id]
	if !ok {
		return false
	}
	fn(task)
	return true
}

// Remove deletes a task.
func (c *TaskCache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tasks, id)
}

// Toggle flips a task between enabled and disabled. A task with a job in
// flight transitions to stopping instead; the terminal job outcome settles it
// to disabled.
func (c *TaskCache) Toggle(id string) (TaskStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[id]
	if !ok {
		return "", services.Wrap(services.ErrNotFound, "scheduler", "toggle", "unknown task "+id, nil)
	}
	switch task.Status {
	case TaskEnabled, TaskFailed:
		task.Status = TaskDisabled
	case TaskDisabled:
		task.Status = TaskEnabled
	case TaskRunning:
		task.Status = TaskStopping
	case TaskStopping:
		return "", services.Wrap(services.ErrValidation, "scheduler", "toggle", "task is already stopping", nil)
	}
	return task.Status, nil
}

// Stats returns aggregate counts by status.
func (c *TaskCache) Stats() TaskStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := TaskStats{Total: len(c.tasks)}
	for _, task := range c.tasks {
		switch task.Status {
		case TaskEnabled:
			stats.Enabled++
		case TaskDisabled:
			stats.Disabled++
		case TaskRunning, TaskStopping:
			stats.Running++
		case TaskFailed:
			stats.Failed++
		}
	}
	return stats
}

// Snapshot returns copies of every task, used when switching backends.
func (c *TaskCache) Snapshot() []ScheduledTask {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ScheduledTask, 0, len(c.tasks))
	for _, task := range c.tasks {
		out = append(out, *task)
	}
	return out
}

// Restore replaces the cache contents with the given tasks.
func (c *TaskCache) Restore(tasks []ScheduledTask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = make(map[string]*ScheduledTask, len(tasks))
	for _, task := range tasks {
		stored := task
		c.tasks[task.ID] = &stored
	}
}

// FindByJobID returns the task currently linked to the given job.
func (c *TaskCache) FindByJobID(jobID uint64) (ScheduledTask, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, task := range c.tasks {
		if task.CurrentJobID == jobID && jobID != 0 {
			return *task, true
		}
	}
	return ScheduledTask{}, false
}
