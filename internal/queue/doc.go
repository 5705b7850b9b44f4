// Package queue is the durable job store: every background job the engine
// runs lives here as one row with its own state machine.
//
// Jobs move pending -> running -> done|failed, may be requeued running ->
// pending by the recovery sweeper, and can be cancelled from pending or
// running. All mutations are single statements or short write transactions
// so the dispatcher, workers, and sweeper can share the store safely:
//
//   - Enqueue coalesces duplicate requests for the same target and type into
//     the existing pending/running job, raising its priority.
//   - ClaimNext atomically hands the best eligible pending job to one caller
//     together with a claim token; heartbeat, progress, and finalize calls
//     must present that token, so a worker presumed dead can never overwrite
//     a job that has since been requeued.
//   - ReclaimStale is the only path from running back to pending.
//
// Jobs are an audit trail: deleting media clears a job's media reference but
// keeps the row.
package queue
