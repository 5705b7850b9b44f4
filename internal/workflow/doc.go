// Package workflow runs the job engine on top of the durable queue.
//
// The Manager owns three kinds of goroutines:
//   - one dispatcher that claims the next eligible job from the store only
//     when a worker is idle, honoring the per-type concurrency caps;
//   - a fixed pool of workers that execute one job each through the
//     generators registry, heartbeat while they work, and finalize the
//     outcome into the artifact ledger and the job store (ledger first);
//   - a sweeper that requeues running jobs whose heartbeat went stale and
//     fails them with "lost worker" once the retry limit is spent.
//
// Every state change goes through the queue's atomic operations; no job state
// is shared in memory between goroutines. A store failure stops the engine
// and is reported on Manager.Fatal.
package workflow
