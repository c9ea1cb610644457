// Package logging assembles the structured slog loggers used by the worker,
// the HTTP front door, and the CLI.
//
// It owns the console and JSON handlers, level parsing, and output routing,
// and exposes context-aware helpers so task handlers automatically tag log
// lines with job IDs, clip indexes, task names, and correlation IDs. A no-op
// logger is provided for tests and wiring code that cannot fail.
package logging
