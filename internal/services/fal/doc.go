// Package fal talks to the fal.ai virtual try-on model.
//
// Two calling styles are supported. Run posts to the synchronous endpoint and
// blocks until the model answers, which is what the /api/try-on proxy uses.
// Submit, Status, Result, Cancel and Await drive fal's queue API so the
// dispatcher can persist the request id and resume awaiting after a restart.
//
// Responses are normalized before they leave the package: a call only
// succeeds when the payload carries a non-empty images array whose first
// entry has a URL. Failures are returned as *Error values whose Message is
// safe to show to end users ("Request timeout", "API Error: 500 - ...") and
// which unwrap to the services error markers for status classification.
//
// Transport failures on 408/429/5xx and network timeouts are retried with
// exponential backoff, honouring Retry-After when fal sends it.
package fal
