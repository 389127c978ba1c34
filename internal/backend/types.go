package backend

import (
	"fmt"

	"rchub/internal/jobs"
	"rchub/internal/remotestate"
	"rchub/internal/scheduler"
)

// LocalName is the reserved name of the built-in backend that points at the
// engine-managed local rclone daemon. It always exists and cannot be removed.
const LocalName = "Local"

// Runtime status values reported for a backend.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// RuntimeInfo holds details queried from a backend's rclone daemon.
type RuntimeInfo struct {
	Version    string `json:"version,omitempty"`
	OS         string `json:"os,omitempty"`
	Arch       string `json:"arch,omitempty"`
	GoVersion  string `json:"goVersion,omitempty"`
	ConfigPath string `json:"configPath,omitempty"`
	Status     string `json:"status"`
}

// Backend describes one rclone daemon the hub can drive: the local
// engine-managed one or a remote daemon reachable over HTTP.
type Backend struct {
	Name     string      `json:"name"`
	IsLocal  bool        `json:"isLocal"`
	Host     string      `json:"host"`
	Port     int         `json:"port"`
	Username string      `json:"username,omitempty"`
	Password string      `json:"-"`
	Runtime  RuntimeInfo `json:"runtime"`
}

// Addr returns the backend's host:port.
func (b Backend) Addr() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// State captures everything scoped to one backend so a switch can park the
// outgoing backend's view and restore it intact later.
type State struct {
	Jobs   []jobs.Job                `json:"jobs"`
	Remote remotestate.Snapshot      `json:"remote"`
	Tasks  []scheduler.ScheduledTask `json:"tasks"`
}
