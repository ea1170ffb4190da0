// Package api defines wire-format types and converters for the HTTP API and
// the CLI's JSON output. It translates internal job, history and workflow
// models into transport-friendly DTOs that browser clients can render without
// coupling to internal types.
//
// # Key Types
//
// Job: transport representation of a try-on job with its progress and result.
//
// TryOnResult: one history entry, including the favorite flag.
//
// TryOnResponse/UploadResponse: the success envelopes of the synchronous
// try-on and upload endpoints.
//
// StatusResponse: dispatcher running state, job counts and fal.ai readiness.
//
// ErrorResponse: the `{success:false, error, message?}` envelope every failing
// endpoint returns.
//
// # Converters
//
// FromJob/FromJobs: jobs.Job -> Job.
//
// FromTryOnResult/FromTryOnResults: history.TryOnResult -> TryOnResult.
//
// FromResponse: tryon.Response -> TryOnResponse.
//
// FromStatusSummary: workflow.StatusSummary -> StatusResponse.
//
// # Actions
//
// RetryJobsByID and CancelJobsByID apply a per-job action across many ids and
// report one outcome per id, so callers can render partial success.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers. Internal
// enums (jobs.Status) are exposed as lowercase strings. Timestamps use RFC3339
// with milliseconds in UTC.
package api
