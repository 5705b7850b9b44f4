package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"mediaforge/internal/sqlitex"
)

// coalesceKey identifies the target two requests must share to be merged.
// Jobs without a media row or explicit path never coalesce.
func coalesceKey(mediaID int64, targetPath string) any {
	if mediaID > 0 {
		return "media:" + strconv.FormatInt(mediaID, 10)
	}
	if path := strings.TrimSpace(targetPath); path != "" {
		return "path:" + path
	}
	return nil
}

// Enqueue inserts a pending job, or merges the request into the pending or
// running job that already targets the same media (or path) with the same
// type, raising that job's priority to the larger of the two. Enqueue never
// fails because of load; the only errors are unknown media and store faults.
func (s *Store) Enqueue(ctx context.Context, req NewJob) (EnqueueResult, error) {
	if strings.TrimSpace(req.Type) == "" {
		return EnqueueResult{}, fmt.Errorf("enqueue: job type is required")
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	var (
		job       *Job
		coalesced bool
	)
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if req.MediaID > 0 {
			var exists int
			err := tx.QueryRowContext(ctx, "SELECT 1 FROM media WHERE id = ?", req.MediaID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %d", ErrUnknownMedia, req.MediaID)
			}
			if err != nil {
				return err
			}
		}

		newID := uuid.NewString()
		now := s.timestamp()
		var resolvedID string
		err := tx.QueryRowContext(ctx, `
INSERT INTO jobs (id, type, media_id, target_path, coalesce_key, status, priority, resumable, payload_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (type, coalesce_key) WHERE status IN ('pending', 'running')
DO UPDATE SET priority = MAX(jobs.priority, excluded.priority), updated_at = excluded.updated_at
RETURNING id`,
			newID,
			req.Type,
			sqlitex.NullableInt64(req.MediaID),
			sqlitex.NullableString(req.TargetPath),
			coalesceKey(req.MediaID, req.TargetPath),
			StatusPending,
			req.Priority,
			sqlitex.BoolToInt(req.Resumable),
			string(payload),
			now,
			now,
		).Scan(&resolvedID)
		if err != nil {
			return err
		}
		loaded, err := loadJob(ctx, tx, resolvedID)
		if err != nil {
			return err
		}
		job = loaded
		coalesced = resolvedID != newID
		return nil
	})
	if err != nil {
		return EnqueueResult{}, storeErr("enqueue", err)
	}
	return EnqueueResult{Job: job, Coalesced: coalesced}, nil
}
