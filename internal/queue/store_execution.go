package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"mediaforge/internal/sqlitex"
)

type ownedRow struct {
	cancelRequested bool
	progress        int64
	total           int64
}

// loadOwned returns the running job's mutable counters when token still owns it.
func loadOwned(ctx context.Context, tx *sql.Tx, id, token string) (ownedRow, error) {
	var (
		status string
		claim  sql.NullString
		cancel int
		row    ownedRow
		total  sql.NullInt64
	)
	err := tx.QueryRowContext(ctx,
		"SELECT status, claim_token, cancel_requested, progress, total FROM jobs WHERE id = ?", id,
	).Scan(&status, &claim, &cancel, &row.progress, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return ownedRow{}, ErrJobNotFound
	}
	if err != nil {
		return ownedRow{}, err
	}
	if Status(status) != StatusRunning || !claim.Valid || claim.String != token {
		return ownedRow{}, ErrOwnershipLost
	}
	row.cancelRequested = cancel != 0
	row.total = total.Int64
	return row, nil
}

// Heartbeat refreshes the liveness timestamp of a running job owned by token.
func (s *Store) Heartbeat(ctx context.Context, id, token string) (Checkpoint, error) {
	var cancel int
	err := sqlitex.RetryOnBusy(ctx, func() error {
		now := s.timestamp()
		return s.db.SQL().QueryRowContext(ctx, `
UPDATE jobs SET heartbeat_at = ?, updated_at = ?
WHERE id = ? AND status = ? AND claim_token = ?
RETURNING cancel_requested`,
			now, now, id, StatusRunning, token,
		).Scan(&cancel)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrOwnershipLost
	}
	if err != nil {
		return Checkpoint{}, storeErr("heartbeat", err)
	}
	return Checkpoint{CancelRequested: cancel != 0}, nil
}

// ReportProgress records progress for a running job and doubles as a
// heartbeat. Progress never moves backwards and is clamped to total.
// A zero total leaves the stored total unchanged.
func (s *Store) ReportProgress(ctx context.Context, id, token string, progress, total int64) (Checkpoint, error) {
	if progress < 0 || total < 0 {
		return Checkpoint{}, fmt.Errorf("report progress: negative counters (%d/%d)", progress, total)
	}
	var checkpoint Checkpoint
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		row, err := loadOwned(ctx, tx, id, token)
		if err != nil {
			return err
		}
		if total == 0 {
			total = row.total
		}
		next := max(progress, row.progress)
		if total > 0 && next > total {
			next = total
		}
		now := s.timestamp()
		if _, err := tx.ExecContext(ctx,
			"UPDATE jobs SET progress = ?, total = ?, heartbeat_at = ?, updated_at = ? WHERE id = ?",
			next, sqlitex.NullableInt64(total), now, now, id,
		); err != nil {
			return err
		}
		checkpoint = Checkpoint{CancelRequested: row.cancelRequested}
		return nil
	})
	if err != nil {
		return Checkpoint{}, storeErr("report progress", err)
	}
	return checkpoint, nil
}

// Complete moves a running job to done with its result summary. If
// cancellation was requested meanwhile the job ends cancelled instead; the
// returned status tells the caller which terminal state was written.
func (s *Store) Complete(ctx context.Context, id, token string, result json.RawMessage) (Status, error) {
	var final Status
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		row, err := loadOwned(ctx, tx, id, token)
		if err != nil {
			return err
		}
		now := s.timestamp()
		final = StatusDone
		if row.cancelRequested {
			final = StatusCancelled
		}
		if err := checkTransition(id, StatusRunning, final); err != nil {
			return err
		}
		if final == StatusCancelled {
			_, err = tx.ExecContext(ctx, `
UPDATE jobs SET status = ?, heartbeat_at = NULL, claim_token = NULL, finished_at = ?, updated_at = ?
WHERE id = ?`, StatusCancelled, now, now, id)
			return err
		}
		_, err = tx.ExecContext(ctx, `
UPDATE jobs
SET status = ?, result_json = ?, error = NULL, heartbeat_at = NULL, claim_token = NULL,
    progress = COALESCE(total, progress), finished_at = ?, updated_at = ?
WHERE id = ?`, StatusDone, nullablePayload(result), now, now, id)
		return err
	})
	if err != nil {
		return "", storeErr("complete", err)
	}
	return final, nil
}

// Fail moves a running job to failed with a human readable cause. A job with
// a pending cancellation ends cancelled and keeps the cause in last_error.
func (s *Store) Fail(ctx context.Context, id, token, message string) (Status, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "job failed"
	}
	var final Status
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		row, err := loadOwned(ctx, tx, id, token)
		if err != nil {
			return err
		}
		now := s.timestamp()
		final = StatusFailed
		if row.cancelRequested {
			final = StatusCancelled
		}
		if err := checkTransition(id, StatusRunning, final); err != nil {
			return err
		}
		if final == StatusCancelled {
			_, err = tx.ExecContext(ctx, `
UPDATE jobs SET status = ?, last_error = ?, heartbeat_at = NULL, claim_token = NULL, finished_at = ?, updated_at = ?
WHERE id = ?`, StatusCancelled, message, now, now, id)
			return err
		}
		_, err = tx.ExecContext(ctx, `
UPDATE jobs
SET status = ?, error = ?, last_error = ?, result_json = NULL, heartbeat_at = NULL, claim_token = NULL,
    finished_at = ?, updated_at = ?
WHERE id = ?`, StatusFailed, message, message, now, now, id)
		return err
	})
	if err != nil {
		return "", storeErr("fail", err)
	}
	return final, nil
}

// RecordTransient notes a recoverable failure. The job stays running but
// gives up its claim token, so its heartbeat goes stale and only the
// sweeper can requeue it (counting against the retry limit). A job with a
// pending cancellation is finalized cancelled right away.
func (s *Store) RecordTransient(ctx context.Context, id, token, message string) (Status, error) {
	var final Status
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		row, err := loadOwned(ctx, tx, id, token)
		if err != nil {
			return err
		}
		now := s.timestamp()
		if row.cancelRequested {
			final = StatusCancelled
			if err := checkTransition(id, StatusRunning, final); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
UPDATE jobs SET status = ?, last_error = ?, heartbeat_at = NULL, claim_token = NULL, finished_at = ?, updated_at = ?
WHERE id = ?`, StatusCancelled, message, now, now, id)
			return err
		}
		final = StatusRunning
		_, err = tx.ExecContext(ctx,
			"UPDATE jobs SET last_error = ?, claim_token = NULL, updated_at = ? WHERE id = ?",
			message, now, id)
		return err
	})
	if err != nil {
		return "", storeErr("record transient", err)
	}
	return final, nil
}

// FinalizeCancelled acknowledges a cancellation observed at a checkpoint.
func (s *Store) FinalizeCancelled(ctx context.Context, id, token string) error {
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		row, err := loadOwned(ctx, tx, id, token)
		if err != nil {
			return err
		}
		if !row.cancelRequested {
			return fmt.Errorf("%w: cancellation was not requested", ErrInvalidTransition)
		}
		if err := checkTransition(id, StatusRunning, StatusCancelled); err != nil {
			return err
		}
		now := s.timestamp()
		_, err = tx.ExecContext(ctx, `
UPDATE jobs SET status = ?, heartbeat_at = NULL, claim_token = NULL, finished_at = ?, updated_at = ?
WHERE id = ?`, StatusCancelled, now, now, id)
		return err
	})
	return storeErr("finalize cancelled", err)
}

// Cancel requests cancellation. A pending job becomes cancelled at once and
// can no longer be claimed. A running job is flagged; its worker observes
// the flag at the next checkpoint. Terminal jobs return ErrInvalidTransition.
func (s *Store) Cancel(ctx context.Context, id string) (*Job, error) {
	var job *Job
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := loadJob(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(id, current.Status, StatusCancelled); err != nil {
			return err
		}
		now := s.timestamp()
		switch current.Status {
		case StatusPending:
			res, err := tx.ExecContext(ctx, `
UPDATE jobs SET status = ?, heartbeat_at = NULL, claim_token = NULL, finished_at = ?, updated_at = ?
WHERE id = ? AND status = ?`, StatusCancelled, now, now, id, StatusPending)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("%w: job %s changed state", ErrInvalidTransition, id)
			}
		case StatusRunning:
			if _, err := tx.ExecContext(ctx,
				"UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE id = ? AND status = ?",
				now, id, StatusRunning,
			); err != nil {
				return err
			}
		}
		job, err = loadJob(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, storeErr("cancel", err)
	}
	return job, nil
}
