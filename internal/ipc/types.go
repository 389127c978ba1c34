package ipc

import (
	"time"

	"rchub/internal/backend"
	"rchub/internal/daemon"
	"rchub/internal/jobs"
	"rchub/internal/remotestate"
	"rchub/internal/scheduler"
)

// StopRequest asks the daemon to shut down.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse carries the daemon runtime snapshot.
type StatusResponse struct {
	Status daemon.Status `json:"status"`
}

// BackendListRequest lists registered backends.
type BackendListRequest struct{}

// BackendListResponse contains the registry ordered local-first.
type BackendListResponse struct {
	Active   string            `json:"active"`
	Backends []backend.Backend `json:"backends"`
}

// BackendAddRequest registers a remote rclone daemon.
type BackendAddRequest struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// BackendAddResponse indicates the backend was registered.
type BackendAddResponse struct {
	Added bool `json:"added"`
}

// BackendUpdateRequest replaces a remote backend's connection details.
type BackendUpdateRequest struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// BackendUpdateResponse indicates the backend was updated.
type BackendUpdateResponse struct {
	Updated bool `json:"updated"`
}

// BackendRemoveRequest drops a remote backend by name.
type BackendRemoveRequest struct {
	Name string `json:"name"`
}

// BackendRemoveResponse indicates the backend was removed.
type BackendRemoveResponse struct {
	Removed bool `json:"removed"`
}

// BackendSwitchRequest activates a different backend.
type BackendSwitchRequest struct {
	Name string `json:"name"`
}

// BackendSwitchResponse names the backend that is now active.
type BackendSwitchResponse struct {
	Active string `json:"active"`
}

// BackendCheckRequest probes all inactive backends.
type BackendCheckRequest struct{}

// BackendCheckResponse returns the registry with refreshed statuses.
type BackendCheckResponse struct {
	Backends []backend.Backend `json:"backends"`
}

// JobListRequest lists tracked jobs on the active backend.
type JobListRequest struct{}

// JobListResponse contains tracked jobs, newest first.
type JobListResponse struct {
	Jobs []jobs.Job `json:"jobs"`
}

// JobSubmitRequest starts a transfer on the active backend.
type JobSubmitRequest struct {
	Kind        string         `json:"kind"`
	Source      string         `json:"source"`
	Destination string         `json:"destination"`
	Remote      string         `json:"remote"`
	Profile     string         `json:"profile"`
	Args        map[string]any `json:"args,omitempty"`
}

// JobSubmitResponse returns the engine-assigned job id.
type JobSubmitResponse struct {
	JobID uint64 `json:"jobid"`
}

// JobStopRequest stops a running job.
type JobStopRequest struct {
	JobID uint64 `json:"jobid"`
}

// JobStopResponse indicates the stop was delivered.
type JobStopResponse struct {
	Stopped bool `json:"stopped"`
}

// JobHistoryRequest filters recorded terminal jobs.
type JobHistoryRequest struct {
	Backend string `json:"backend"`
	Remote  string `json:"remote"`
	Status  string `json:"status"`
	Limit   int    `json:"limit"`
}

// JobHistoryResponse contains recorded jobs, newest first.
type JobHistoryResponse struct {
	Jobs []jobs.Job `json:"jobs"`
}

// RemoteListRequest lists remotes configured on the active backend.
type RemoteListRequest struct{}

// RemoteListResponse contains the remote names.
type RemoteListResponse struct {
	Remotes []string `json:"remotes"`
}

// MountListRequest lists reconciled mount points.
type MountListRequest struct{}

// MountListResponse contains the active mounts.
type MountListResponse struct {
	Mounts []remotestate.MountPoint `json:"mounts"`
}

// ServeListRequest lists reconciled serve instances.
type ServeListRequest struct{}

// ServeListResponse contains the active serves.
type ServeListResponse struct {
	Serves []remotestate.Serve `json:"serves"`
}

// TaskListRequest lists scheduled tasks on the active backend.
type TaskListRequest struct{}

// TaskListResponse contains the scheduled tasks.
type TaskListResponse struct {
	Tasks []scheduler.ScheduledTask `json:"tasks"`
}

// TaskToggleRequest flips a task between enabled and disabled.
type TaskToggleRequest struct {
	ID string `json:"id"`
}

// TaskToggleResponse reports the status after the toggle.
type TaskToggleResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CronValidateRequest checks a cron expression.
type CronValidateRequest struct {
	Expression string `json:"expression"`
}

// CronValidateResponse reports validity and the computed next run.
type CronValidateResponse struct {
	Valid   bool      `json:"valid"`
	Error   string    `json:"error,omitempty"`
	NextRun time.Time `json:"next_run,omitempty"`
}

// RefreshRequest re-pulls state from the active backend immediately.
type RefreshRequest struct{}

// RefreshResponse carries the status after the refresh.
type RefreshResponse struct {
	Status daemon.Status `json:"status"`
}

// LogTailRequest fetches log lines based on offset and follow semantics.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
