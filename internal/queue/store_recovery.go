package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mediaforge/internal/sqlitex"
)

// ReclaimStale is the recovery sweep. Every running job whose heartbeat is
// older than cutoff is resolved in one transaction:
//
//   - cancellation requested: finalized cancelled
//   - retries already at maxRetries: failed with LostWorkerError
//   - otherwise: requeued to pending with retries incremented; progress is
//     kept for resumable jobs and reset to zero for the rest
//
// No other operation moves a running job back to pending.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time, maxRetries int) (ReclaimReport, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	staleBefore := sqlitex.FormatTime(cutoff)
	var report ReclaimReport
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		report = ReclaimReport{}
		for _, to := range []Status{StatusCancelled, StatusFailed, StatusPending} {
			if !CanTransition(StatusRunning, to) {
				return fmt.Errorf("%w: stale jobs cannot move to %s", ErrInvalidTransition, to)
			}
		}
		now := s.timestamp()
		var err error

		report.Cancelled, err = updateReturningIDs(ctx, tx, `
UPDATE jobs
SET status = ?, heartbeat_at = NULL, claim_token = NULL, finished_at = ?, updated_at = ?
WHERE status = ? AND cancel_requested = 1 AND (heartbeat_at IS NULL OR heartbeat_at < ?)
RETURNING id`, StatusCancelled, now, now, StatusRunning, staleBefore)
		if err != nil {
			return err
		}

		report.Failed, err = updateReturningIDs(ctx, tx, `
UPDATE jobs
SET status = ?, error = ?, result_json = NULL, retries = retries + 1,
    heartbeat_at = NULL, claim_token = NULL, finished_at = ?, updated_at = ?
WHERE status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?) AND retries >= ?
RETURNING id`, StatusFailed, LostWorkerError, now, now, StatusRunning, staleBefore, maxRetries)
		if err != nil {
			return err
		}

		report.Requeued, err = updateReturningIDs(ctx, tx, `
UPDATE jobs
SET status = ?, retries = retries + 1,
    progress = CASE WHEN resumable = 1 THEN progress ELSE 0 END,
    heartbeat_at = NULL, claim_token = NULL, started_at = NULL, updated_at = ?
WHERE status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?)
RETURNING id`, StatusPending, now, StatusRunning, staleBefore)
		return err
	})
	if err != nil {
		return ReclaimReport{}, storeErr("reclaim stale", err)
	}
	return report, nil
}

func updateReturningIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
