// Package logging assembles structured slog loggers and formatting helpers used
// across the try-on backend.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so dispatcher and HTTP code can
// tag log lines with job IDs, client IDs, stages, and correlation IDs. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging
