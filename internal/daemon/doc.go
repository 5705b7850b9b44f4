// Package daemon coordinates the long-running mediaforge process.
//
// It ties the workflow manager, the control surface, and the optional HTTP
// API into a single lifecycle with flock-based locking to prevent multiple
// instances against the same data directory. Status reports merge workflow
// state with preflight checks and binary availability.
//
// Keep orchestration logic here: job execution lives in workflow and the
// generators, while the daemon focuses on startup, shutdown, and exposing
// the control operations.
package daemon
