package queue

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"

	"mediaforge/internal/sqlitex"
)

const claimSelectionAttempts = 3

// ClaimNext atomically moves the best eligible pending job to running and
// returns it with a fresh claim token, or nil when nothing is eligible.
//
// Eligible means: the type is within opts.Types (when set), the type is below
// its concurrency cap, and no other job for the same target and type is
// running. Among eligible jobs the highest priority wins and ties go to the
// earliest created. The transition is a conditional update on status, so of
// any number of concurrent callers exactly one wins a given job; losers
// simply select again.
func (s *Store) ClaimNext(ctx context.Context, opts ClaimOptions) (*Job, error) {
	var claimed *Job
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		claimed = nil
		excluded, err := cappedTypes(ctx, tx, opts.Caps)
		if err != nil {
			return err
		}
		for attempt := 0; attempt < claimSelectionAttempts; attempt++ {
			id, err := selectCandidate(ctx, tx, opts.Types, excluded)
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			if err != nil {
				return err
			}

			if err := checkTransition(id, StatusPending, StatusRunning); err != nil {
				return err
			}
			token := uuid.NewString()
			now := s.timestamp()
			res, err := tx.ExecContext(ctx, `
UPDATE jobs
SET status = ?, claim_token = ?, heartbeat_at = ?, started_at = ?, updated_at = ?, last_error = NULL
WHERE id = ? AND status = ?`,
				StatusRunning, token, now, now, now, id, StatusPending)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			claimed, err = loadJob(ctx, tx, id)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("claim", err)
	}
	return claimed, nil
}

// cappedTypes returns the job types whose running count has reached the cap.
func cappedTypes(ctx context.Context, tx *sql.Tx, caps map[string]int) ([]string, error) {
	if len(caps) == 0 {
		return nil, nil
	}
	rows, err := tx.QueryContext(ctx, "SELECT type, COUNT(1) FROM jobs WHERE status = ? GROUP BY type", StatusRunning)
	if err != nil {
		return nil, err
	}
	running := make(map[string]int)
	for rows.Next() {
		var (
			jobType string
			count   int
		)
		if err := rows.Scan(&jobType, &count); err != nil {
			rows.Close()
			return nil, err
		}
		running[jobType] = count
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var excluded []string
	for jobType, limit := range caps {
		if limit > 0 && running[jobType] >= limit {
			excluded = append(excluded, jobType)
		}
	}
	sort.Strings(excluded)
	return excluded, nil
}

func selectCandidate(ctx context.Context, tx *sql.Tx, types, excluded []string) (string, error) {
	var (
		query strings.Builder
		args  []any
	)
	query.WriteString(`
SELECT j.id FROM jobs j
WHERE j.status = ?
  AND (j.coalesce_key IS NULL OR NOT EXISTS (
        SELECT 1 FROM jobs r
        WHERE r.status = ? AND r.type = j.type AND r.coalesce_key = j.coalesce_key))`)
	args = append(args, StatusPending, StatusRunning)
	if len(types) > 0 {
		query.WriteString(" AND j.type IN (" + sqlitex.Placeholders(len(types)) + ")")
		for _, t := range types {
			args = append(args, t)
		}
	}
	if len(excluded) > 0 {
		query.WriteString(" AND j.type NOT IN (" + sqlitex.Placeholders(len(excluded)) + ")")
		for _, t := range excluded {
			args = append(args, t)
		}
	}
	query.WriteString(" ORDER BY j.priority DESC, j.created_at ASC, j.seq ASC LIMIT 1")

	var id string
	err := tx.QueryRowContext(ctx, query.String(), args...).Scan(&id)
	return id, err
}
