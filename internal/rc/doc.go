// Package rc implements a client for the rclone remote control API used by
// every backend, local or remote.
package rc
