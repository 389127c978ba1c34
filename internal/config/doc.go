// Package config loads, normalizes, and validates the TOML configuration
// shared by the rchub daemon and CLI.
package config
