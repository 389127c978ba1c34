// Package remotestate caches the active backend's remotes, mounts, and
// serves, and reconciles that cache against the daemon on an interval so
// external changes (manual unmounts, killed serves) become visible.
package remotestate
