// Package main hosts the tryon CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the HTTP daemon in the foreground, works
// the job queue and the history store directly, submits one-off try-ons and
// scaffolds configuration. It centralizes configuration resolution and store
// wiring so subcommands can focus on output instead of plumbing.
//
// Keep this package lean: add new functionality to the internal packages
// first, then surface it through dedicated commands or flags here.
package main
