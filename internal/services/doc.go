// Package services defines shared utilities consumed by the pipeline task
// handlers and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, clip indexes, task names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can tell
//     transient upstream failures from configuration or validation problems.
//
// Use these helpers when wiring new integrations so retry decisions and log
// output stay uniform across the pipeline.
package services
