// Package api defines wire-format types and converters for the IPC and HTTP
// API layer. It translates internal queue, ledger, and catalog models into
// transport-friendly DTOs the CLI and other consumers can render without
// coupling to internal types.
//
// # Key Types
//
// Job: transport representation of a job with progress, error, and retry
// counters.
//
// Artifact: ledger row for one media item and artifact type.
//
// WorkflowStatus / DaemonStatus: engine state, queue stats, routine health,
// dependency and preflight results.
//
// # Converters
//
// FromJob, FromArtifact, FromMedia, FromStatusSummary, FromQueueHealth and
// FromDatabaseHealth map internal models onto DTOs. StageHealthSlice orders
// routine health deterministically.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Internal enums are exposed as lowercase
// strings. Timestamps use RFC3339 with milliseconds. Payloads and results are
// passed through as json.RawMessage to avoid double-encoding.
package api
