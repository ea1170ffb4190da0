// Package workflow dispatches queued try-on jobs to fal.ai in the background.
//
// The Manager runs a pool of workers that claim jobs from the jobs store and
// advance them through two stages: submit (pending → submitting → submitted)
// hands the request to the fal.ai queue, and await (submitted → processing →
// completed) polls until the image is ready, then persists it through the
// configured Persister. Workers heartbeat the job they hold; stale jobs are
// rolled back to the start of their stage so another worker can resume them.
// A job canceled while a worker holds it stays canceled.
package workflow
