// Package daemon coordinates the long-running rchub process.
//
// It wires configuration, the engine supervisor, the backend registry, job
// monitoring, mount/serve reconciliation, the cron scheduler, and the history
// store into a single lifecycle with flock-based locking to prevent multiple
// instances. The daemon exposes the facade the IPC and HTTP surfaces call
// into and owns notification forwarding for engine and backend events.
//
// Keep orchestration logic here: the individual subsystems live in their own
// packages while the daemon focuses on startup, shutdown, and high level
// coordination.
package daemon
