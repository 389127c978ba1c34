// Package logging provides slog-based loggers with console and JSON
// handlers plus attribute helpers shared by all daemon components.
package logging
