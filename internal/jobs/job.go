package jobs

import (
	"encoding/json"
	"strings"
	"time"
)

// Status describes the lifecycle state of an async transfer job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

var statusSet = map[Status]struct{}{
	StatusRunning:   {},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusStopped:   {},
}

// Transfer kinds map onto the daemon's sync/* operations.
const (
	KindSync   = "sync"
	KindCopy   = "copy"
	KindMove   = "move"
	KindBisync = "bisync"
)

var kindSet = map[string]struct{}{
	KindSync:   {},
	KindCopy:   {},
	KindMove:   {},
	KindBisync: {},
}

// ValidKind reports whether kind names a supported transfer operation.
func ValidKind(kind string) bool {
	_, ok := kindSet[kind]
	return ok
}

// ParseStatus normalizes a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusSet[status]
	return status, ok
}

// Terminal reports whether the status is final. A terminal status is
// authoritative; no later poll result may overwrite it.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// Job is one async transfer tracked by the daemon.
type Job struct {
	ID          uint64          `json:"id"`
	Kind        string          `json:"kind"`
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	Remote      string          `json:"remote"`
	Profile     string          `json:"profile,omitempty"`
	Group       string          `json:"group"`
	Backend     string          `json:"backend"`
	TaskID      string          `json:"task_id,omitempty"`
	Status      Status          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Stats       json.RawMessage `json:"stats,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at,omitempty"`
}
