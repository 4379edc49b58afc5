// Package logging wraps log/slog with the construction options, attribute
// helpers, and standardized field names used across the daemon, pipeline, and
// CLI. Context-carried job and stage identifiers flow into log records via
// WithContext so every line emitted while a job runs can be correlated.
package logging
