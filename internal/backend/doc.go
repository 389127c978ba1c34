// Package backend tracks the rclone daemons the hub can drive. One backend
// is active at a time; switching parks the outgoing backend's jobs, remote
// state, and scheduled tasks and restores the incoming backend's, so each
// backend keeps an independent view. An unreachable remote backend falls
// back to the engine-managed local daemon.
package backend
