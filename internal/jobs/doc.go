// Package jobs tracks async rclone transfers: an in-memory cache keyed by
// daemon job id plus per-job monitor goroutines that poll status and stats
// until a single terminal transition wins.
package jobs
