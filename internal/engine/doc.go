// Package engine supervises the local rclone rcd process: spawning it with
// the configured rc address and credentials, waiting for the rc API to come
// up, restarting it on failed health checks, and stopping it for good once
// daemon shutdown begins.
package engine
