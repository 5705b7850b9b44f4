// Package main hosts the mediaforge CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into IPC calls
// against the daemon: job submission and cancellation, queue listings and
// maintenance, media registration, and configuration scaffolding. When no
// daemon is listening, job and media commands open the database directly so
// work can still be queued and inspected; a daemon started later picks it up.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
