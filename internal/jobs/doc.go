// Package jobs persists try-on jobs in SQLite and exposes helpers for driving
// their lifecycle.
//
// The Store manages the database connection, schema initialization, stats
// queries, heartbeat tracking, stale-job recovery, and the status transitions
// the dispatcher relies on. A job carries both the request (person and garment
// image URLs) and the fal.ai queue handle, so awaiting can resume after a
// restart without resubmitting.
//
// A client may hold at most one active job (pending, submitting, submitted or
// processing). NewJob and RetryFailed enforce this with ErrInFlight, backed by
// a partial unique index so concurrent writers cannot race past the check.
//
// The database is treated as working storage for in-flight jobs rather than
// the history archive; completed results live in the history store. Schema
// changes bump schemaVersion; users clear the database to adopt them.
package jobs
