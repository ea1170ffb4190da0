// Package services defines shared utilities consumed by the dispatcher stages,
// the HTTP server and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, client identifiers and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent job statuses and HTTP response codes.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
