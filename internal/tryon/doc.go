// Package tryon orchestrates a virtual try-on from request to stored result.
//
// Service validates the request, calls the fal.ai model, normalizes the
// output, persists it to the history store and records it in the history
// cache. Process runs that pipeline synchronously for one HTTP request;
// Enqueue, Retry and Cancel manage durable jobs that the workflow package
// dispatches in the background. Each client may hold one in-flight job.
package tryon
