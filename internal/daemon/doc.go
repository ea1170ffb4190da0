// Package daemon coordinates the long-running try-on backend process.
//
// It wires configuration, the job store, the history backend and its cache,
// the fal.ai client, the workflow dispatcher and the HTTP server into a single
// lifecycle with flock-based locking to prevent multiple instances sharing a
// data directory. Start loads the history cache and prunes old logs before
// bringing up the dispatcher and the listener; Stop tears them down in reverse.
//
// Keep orchestration logic here: request handling lives in server, try-on
// semantics in tryon and job execution in workflow, while the daemon focuses
// on startup, shutdown, and high level coordination.
package daemon
