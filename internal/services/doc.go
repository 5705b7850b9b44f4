// Package services defines shared utilities consumed by the job engine, the
// job-type routines, and the control surfaces.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, job types, worker slots, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper, and Classify, which maps
//     any failure onto the engine's taxonomy (validation, transient,
//     permanent, store, cancelled) so the worker knows whether to fail the
//     job, leave it for the sweeper, or stop the engine.
package services
