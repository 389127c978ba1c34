// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs for the
// control surface: status, backend registry operations, job submission and
// history, cache listings, scheduler toggles, and log tailing. The server
// embeds the daemon while the client keeps calls synchronous so CLI commands
// fail fast when the daemon is offline.
//
// Reuse these types when adding new RPC endpoints to keep the protocol stable
// and compatible with existing command implementations.
package ipc
