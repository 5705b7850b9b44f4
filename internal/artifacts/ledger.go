package artifacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"mediaforge/internal/services"
	"mediaforge/internal/sqlitex"
)

// Status is the lifecycle of one artifact row.
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
	StatusStale      Status = "stale"
)

// Record is the ledger entry for one media item and artifact type.
type Record struct {
	ID          int64
	MediaID     int64
	Type        string
	Path        string
	Status      Status
	Payload     json.RawMessage
	SourceMTime time.Time
	JobID       string
	Error       string
	GeneratedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Ledger reads and writes artifact rows in the shared database.
type Ledger struct {
	db  *sqlitex.DB
	now func() time.Time
}

// NewLedger wraps an opened database.
func NewLedger(db *sqlitex.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

const recordColumns = "id, media_id, type, path, status, payload_json, source_mtime, job_id, error, generated_at, created_at, updated_at"

func scanRecord(scanner interface{ Scan(...any) error }) (*Record, error) {
	var (
		rec       Record
		path      sql.NullString
		status    string
		payload   sql.NullString
		mtime     sql.NullString
		jobID     sql.NullString
		errText   sql.NullString
		generated sql.NullString
		created   sql.NullString
		updated   sql.NullString
	)
	if err := scanner.Scan(&rec.ID, &rec.MediaID, &rec.Type, &path, &status, &payload, &mtime, &jobID, &errText, &generated, &created, &updated); err != nil {
		return nil, err
	}
	rec.Path = path.String
	rec.Status = Status(status)
	if payload.Valid && payload.String != "" {
		rec.Payload = json.RawMessage(payload.String)
	}
	rec.SourceMTime = sqlitex.NullTime(mtime)
	rec.JobID = jobID.String
	rec.Error = errText.String
	rec.GeneratedAt = sqlitex.NullTime(generated)
	rec.CreatedAt = sqlitex.NullTime(created)
	rec.UpdatedAt = sqlitex.NullTime(updated)
	return &rec, nil
}

// Lookup returns the row for (mediaID, artifactType), or nil when none exists.
func (l *Ledger) Lookup(ctx context.Context, mediaID int64, artifactType string) (*Record, error) {
	rec, err := scanRecord(l.db.SQL().QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM artifacts WHERE media_id = ? AND type = ?", mediaID, artifactType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("lookup", err)
	}
	return rec, nil
}

// ListForMedia returns every artifact row of a media item ordered by type.
func (l *Ledger) ListForMedia(ctx context.Context, mediaID int64) ([]*Record, error) {
	rows, err := l.db.SQL().QueryContext(ctx,
		"SELECT "+recordColumns+" FROM artifacts WHERE media_id = ? ORDER BY type", mediaID)
	if err != nil {
		return nil, storeErr("list", err)
	}
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storeErr("list", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list", err)
	}
	return out, nil
}

// MarkGenerating records that a worker started producing the artifact. An
// existing row keeps its previous path and payload until the new one lands.
func (l *Ledger) MarkGenerating(ctx context.Context, mediaID int64, artifactType, jobID string) error {
	now := sqlitex.FormatTime(l.now())
	_, err := l.db.Exec(ctx, `
INSERT INTO artifacts (media_id, type, status, job_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (media_id, type) DO UPDATE SET
    status = excluded.status, job_id = excluded.job_id, error = NULL, updated_at = excluded.updated_at`,
		mediaID, artifactType, StatusGenerating, jobID, now, now)
	return storeErr("mark generating", err)
}

// Upsert stores a finished artifact, overwriting the row for its media and
// type. The row is ready when rec.SourceMTime still matches the media's
// current modification time and stale otherwise, so an artifact rendered
// from a file that changed mid-generation is never reported current.
func (l *Ledger) Upsert(ctx context.Context, rec Record) (*Record, error) {
	if rec.MediaID <= 0 || strings.TrimSpace(rec.Type) == "" {
		return nil, services.Wrap(services.ErrValidation, "artifacts", "upsert", "media id and type are required", nil)
	}
	now := l.now()
	generated := rec.GeneratedAt
	if generated.IsZero() {
		generated = now
	}
	var payload any
	if len(rec.Payload) > 0 {
		payload = string(rec.Payload)
	}
	sourceMTime := sqlitex.NullableTime(rec.SourceMTime)
	stamp := sqlitex.FormatTime(now)

	var out *Record
	err := l.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO artifacts (media_id, type, path, status, payload_json, source_mtime, job_id, error, generated_at, created_at, updated_at)
VALUES (?, ?, ?,
        CASE WHEN (SELECT mtime FROM media WHERE id = ?) = ? THEN ? ELSE ? END,
        ?, ?, ?, NULL, ?, ?, ?)
ON CONFLICT (media_id, type) DO UPDATE SET
    path = excluded.path, status = excluded.status, payload_json = excluded.payload_json,
    source_mtime = excluded.source_mtime, job_id = excluded.job_id, error = NULL,
    generated_at = excluded.generated_at, updated_at = excluded.updated_at`,
			rec.MediaID, rec.Type, rec.Path,
			rec.MediaID, sourceMTime, StatusReady, StatusStale,
			payload, sourceMTime, sqlitex.NullableString(rec.JobID),
			sqlitex.FormatTime(generated), stamp, stamp,
		); err != nil {
			return err
		}
		loaded, err := scanRecord(tx.QueryRowContext(ctx,
			"SELECT "+recordColumns+" FROM artifacts WHERE media_id = ? AND type = ?", rec.MediaID, rec.Type))
		out = loaded
		return err
	})
	if err != nil {
		return nil, storeErr("upsert", err)
	}
	return out, nil
}

// MarkFailed records a failed generation attempt. The previous path stays
// so a caller can still show the last good artifact.
func (l *Ledger) MarkFailed(ctx context.Context, mediaID int64, artifactType, jobID, message string) error {
	now := sqlitex.FormatTime(l.now())
	_, err := l.db.Exec(ctx, `
INSERT INTO artifacts (media_id, type, status, job_id, error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (media_id, type) DO UPDATE SET
    status = excluded.status, job_id = excluded.job_id, error = excluded.error, updated_at = excluded.updated_at`,
		mediaID, artifactType, StatusFailed, jobID, message, now, now)
	return storeErr("mark failed", err)
}

// InvalidateForMedia marks ready artifacts stale when they were generated
// from a modification time other than mtime. It returns the number of rows
// changed and never schedules regeneration.
func (l *Ledger) InvalidateForMedia(ctx context.Context, mediaID int64, mtime time.Time) (int64, error) {
	res, err := l.db.Exec(ctx, invalidateQuery, l.invalidateArgs(mediaID, mtime)...)
	if err != nil {
		return 0, storeErr("invalidate", err)
	}
	return res.RowsAffected()
}

// InvalidateForMediaTx is InvalidateForMedia inside the caller's
// transaction, so a media row change and its stale marks commit together.
func (l *Ledger) InvalidateForMediaTx(ctx context.Context, tx *sql.Tx, mediaID int64, mtime time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, invalidateQuery, l.invalidateArgs(mediaID, mtime)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const invalidateQuery = `
UPDATE artifacts SET status = ?, updated_at = ?
WHERE media_id = ? AND status = ? AND (source_mtime IS NULL OR source_mtime <> ?)`

func (l *Ledger) invalidateArgs(mediaID int64, mtime time.Time) []any {
	return []any{StatusStale, sqlitex.FormatTime(l.now()), mediaID, StatusReady, sqlitex.FormatTime(mtime)}
}

// NeedsRegeneration reports whether the artifact is missing, not ready, or
// was produced from a different modification time than mtime.
func (l *Ledger) NeedsRegeneration(ctx context.Context, mediaID int64, artifactType string, mtime time.Time) (bool, error) {
	rec, err := l.Lookup(ctx, mediaID, artifactType)
	if err != nil {
		return false, err
	}
	if rec == nil || rec.Status != StatusReady {
		return true, nil
	}
	return !rec.SourceMTime.Equal(mtime.UTC()), nil
}

func storeErr(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return services.Wrap(services.ErrNotFound, "artifacts", operation, "media no longer exists", err)
	}
	return services.Wrap(services.ErrStore, "artifacts", operation, "", err)
}
