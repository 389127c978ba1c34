package jobs

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// Cache is the in-memory registry of jobs keyed by daemon-assigned job id.
// It is the source of truth for job state; the rclone daemon is only polled.
type Cache struct {
	mu   sync.RWMutex
	jobs map[uint64]*Job
}

// NewCache constructs an empty job cache.
func NewCache() *Cache {
	return &Cache{jobs: make(map[uint64]*Job)}
}

// Put inserts or replaces a job entry.
func (c *Cache) Put(job Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := job
	c.jobs[job.ID] = &stored
}

// Get returns a copy of the job with the given id.
func (c *Cache) Get(id uint64) (Job, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	job, ok := c.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List returns all jobs ordered by start time, newest first.
func (c *Cache) List() []Job {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Job, 0, len(c.jobs))
	for _, job := range c.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// MarkTerminal transitions a job to a terminal status. It returns false when
// the job is unknown or already terminal, so exactly one terminal transition
// wins per job.
func (c *Cache) MarkTerminal(id uint64, status Status, errMsg string) bool {
	if !status.Terminal() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[id]
	if !ok || job.Status.Terminal() {
		return false
	}
	job.Status = status
	job.Error = errMsg
	job.FinishedAt = time.Now()
	return true
}

// SetStats updates the opaque stats payload for a running job. Stats arriving
// after a terminal transition are dropped.
func (c *Cache) SetStats(id uint64, stats json.RawMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[id]
	if !ok || job.Status.Terminal() {
		return false
	}
	job.Stats = stats
	return true
}

// Remove deletes a job from the cache.
func (c *Cache) Remove(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.jobs, id)
}

// HasRunning reports whether a job of the given kind is currently running for
// the remote and profile combination.
func (c *Cache) HasRunning(remote, kind, profile string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, job := range c.jobs {
		if job.Status != StatusRunning {
			continue
		}
		if strings.EqualFold(job.Remote, remote) &&
			strings.EqualFold(job.Kind, kind) &&
			job.Profile == profile {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of every cached job, used when switching backends.
func (c *Cache) Snapshot() []Job {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Job, 0, len(c.jobs))
	for _, job := range c.jobs {
		out = append(out, *job)
	}
	return out
}

// Restore replaces the cache contents with the given jobs.
func (c *Cache) Restore(restored []Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = make(map[uint64]*Job, len(restored))
	for _, job := range restored {
		stored := job
		c.jobs[job.ID] = &stored
	}
}

// Stats returns job counts grouped by status.
func (c *Cache) Stats() map[Status]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	counts := make(map[Status]int, len(statusSet))
	for _, job := range c.jobs {
		counts[job.Status]++
	}
	return counts
}
