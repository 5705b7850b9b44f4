package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"mediaforge/internal/sqlitex"
)

// RetryFailed moves failed jobs back to pending with a fresh retry budget.
// With no ids every failed job is considered. A failed job whose target
// already has a pending or running job of the same type is skipped, since
// that job will produce the same artifact.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	var retried int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		retried = 0
		candidates, err := failedCandidates(ctx, tx, ids)
		if err != nil {
			return err
		}
		now := s.timestamp()
		for _, id := range candidates {
			if err := checkTransition(id, StatusFailed, StatusPending); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `
UPDATE jobs
SET status = ?, error = NULL, result_json = NULL, retries = 0, cancel_requested = 0,
    progress = CASE WHEN resumable = 1 THEN progress ELSE 0 END,
    finished_at = NULL, started_at = NULL, updated_at = ?
WHERE id = ? AND status = ?
  AND (coalesce_key IS NULL OR NOT EXISTS (
        SELECT 1 FROM jobs a
        WHERE a.type = jobs.type AND a.coalesce_key = jobs.coalesce_key AND a.status IN (?, ?)))`,
				StatusPending, now, id, StatusFailed, StatusPending, StatusRunning)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			retried += n
		}
		return nil
	})
	if err != nil {
		return 0, storeErr("retry failed", err)
	}
	return retried, nil
}

func failedCandidates(ctx context.Context, tx *sql.Tx, ids []string) ([]string, error) {
	query := "SELECT id FROM jobs WHERE status = ?"
	args := []any{StatusFailed}
	if len(ids) > 0 {
		query += " AND id IN (" + sqlitex.Placeholders(len(ids)) + ")"
		for _, id := range ids {
			args = append(args, id)
		}
	}
	// Newest first so the most recent request for a target is the one revived.
	query += " ORDER BY seq DESC"
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// PurgeFinished deletes terminal jobs that finished before the cutoff.
func (s *Store) PurgeFinished(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Exec(ctx,
		"DELETE FROM jobs WHERE status IN (?, ?, ?) AND finished_at IS NOT NULL AND finished_at < ?",
		StatusDone, StatusFailed, StatusCancelled, sqlitex.FormatTime(before))
	if err != nil {
		return 0, storeErr("purge finished", err)
	}
	return res.RowsAffected()
}

// Stats returns job counts per status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	stats := make(map[Status]int, len(allStatuses))
	rows, err := s.db.SQL().QueryContext(ctx, "SELECT status, COUNT(1) FROM jobs GROUP BY status")
	if err != nil {
		return nil, storeErr("stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, storeErr("stats", err)
		}
		stats[Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("stats", err)
	}
	return stats, nil
}

// Health summarizes queue state. Running jobs whose heartbeat is older than
// staleCutoff are counted as stale; they are what the next sweep reclaims.
func (s *Store) Health(ctx context.Context, staleCutoff time.Time) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	summary := HealthSummary{
		Pending:   stats[StatusPending],
		Running:   stats[StatusRunning],
		Done:      stats[StatusDone],
		Failed:    stats[StatusFailed],
		Cancelled: stats[StatusCancelled],
	}
	for _, count := range stats {
		summary.Total += count
	}

	var oldest sql.NullString
	err = s.db.SQL().QueryRowContext(ctx, `
SELECT
  (SELECT COUNT(1) FROM jobs WHERE status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?)),
  (SELECT COUNT(1) FROM jobs WHERE status = ? AND cancel_requested = 1),
  (SELECT MIN(created_at) FROM jobs WHERE status = ?)`,
		StatusRunning, sqlitex.FormatTime(staleCutoff), StatusRunning, StatusPending,
	).Scan(&summary.StaleRunning, &summary.CancelRequested, &oldest)
	if err != nil {
		return HealthSummary{}, storeErr("health", err)
	}
	summary.OldestPending = sqlitex.NullTime(oldest)
	return summary, nil
}

var expectedJobColumns = []string{
	"seq", "id", "type", "media_id", "target_path", "coalesce_key", "status", "priority",
	"progress", "total", "resumable", "payload_json", "result_json", "error", "last_error",
	"retries", "claim_token", "cancel_requested", "heartbeat_at", "started_at", "finished_at",
	"created_at", "updated_at",
}

// CheckHealth inspects the jobs table and runs an integrity check.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.db.Path()}
	if _, err := os.Stat(health.DBPath); err != nil {
		health.Error = fmt.Sprintf("stat database: %v", err)
		return health, nil
	}

	var version int
	if err := s.db.SQL().QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err == nil {
		health.SchemaVersion = fmt.Sprintf("%d", version)
	}

	rows, err := s.db.SQL().QueryContext(ctx, "PRAGMA table_info(jobs)")
	if err != nil {
		health.Error = fmt.Sprintf("table info: %v", err)
		return health, nil
	}
	present := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			rows.Close()
			health.Error = fmt.Sprintf("scan table info: %v", err)
			return health, nil
		}
		present[name] = true
	}
	rows.Close()
	health.TableExists = len(present) > 0
	for _, column := range expectedJobColumns {
		if present[column] {
			health.ColumnsPresent = append(health.ColumnsPresent, column)
		} else {
			health.MissingColumns = append(health.MissingColumns, column)
		}
	}

	var integrity string
	if err := s.db.SQL().QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			health.Error = fmt.Sprintf("integrity check: %v", err)
		}
	}
	health.IntegrityCheck = integrity == "ok"

	if err := s.db.SQL().QueryRowContext(ctx, "SELECT COUNT(1) FROM jobs").Scan(&health.TotalJobs); err != nil {
		health.Error = fmt.Sprintf("count jobs: %v", err)
	}
	return health, nil
}
