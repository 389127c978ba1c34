// Package notifications delivers daemon events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when no topic is set.
// Per-category toggles (jobs, engine, scheduler, errors) decide which calls
// actually send, so components can notify unconditionally.
//
// Extend this package if you need alternative transports; all daemon code
// depends only on the simple Service interface.
package notifications
