// Package catalog persists projects, scans, jobs, and reconstruction metrics
// in a SQLite database. It is the single source of truth for job state: all
// status transitions go through the store, which enforces forward-only stage
// movement and monotonic progress.
package catalog
