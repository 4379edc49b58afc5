// Package services defines shared utilities consumed by the pipeline stage
// handlers and external tool integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     consistently across the HTTP layer, the pipeline, and the CLI.
//
// Use these helpers when wiring new stage logic so operational behaviour
// (error handling, observability, retry semantics) stays uniform.
package services
