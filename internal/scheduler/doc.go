// Package scheduler runs cron-driven transfer tasks defined in remote
// configs, linking each firing to an async job and settling task state from
// the job's terminal outcome.
package scheduler
