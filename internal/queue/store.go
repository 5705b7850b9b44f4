package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"mediaforge/internal/sqlitex"
)

// Store manages job persistence in the shared SQLite database.
type Store struct {
	db  *sqlitex.DB
	now func() time.Time
}

// NewStore wraps an opened database.
func NewStore(db *sqlitex.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetClock overrides the time source; tests use it to age heartbeats.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Path returns the backing database file.
func (s *Store) Path() string { return s.db.Path() }

func (s *Store) timestamp() string {
	return sqlitex.FormatTime(s.now())
}

const jobColumns = "seq, id, type, media_id, target_path, status, priority, progress, total, resumable, payload_json, result_json, error, last_error, retries, claim_token, cancel_requested, heartbeat_at, started_at, finished_at, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job             Job
		mediaID         sql.NullInt64
		targetPath      sql.NullString
		status          string
		total           sql.NullInt64
		resumable       int
		payload         sql.NullString
		result          sql.NullString
		errText         sql.NullString
		lastErr         sql.NullString
		claimToken      sql.NullString
		cancelRequested int
		heartbeat       sql.NullString
		started         sql.NullString
		finished        sql.NullString
		created         sql.NullString
		updated         sql.NullString
	)
	if err := scanner.Scan(
		&job.Seq, &job.ID, &job.Type, &mediaID, &targetPath, &status, &job.Priority,
		&job.Progress, &total, &resumable, &payload, &result, &errText, &lastErr,
		&job.Retries, &claimToken, &cancelRequested, &heartbeat, &started, &finished,
		&created, &updated,
	); err != nil {
		return nil, err
	}
	job.MediaID = mediaID.Int64
	job.TargetPath = targetPath.String
	job.Status = Status(status)
	job.Total = total.Int64
	job.Resumable = resumable != 0
	if payload.Valid && payload.String != "" {
		job.Payload = json.RawMessage(payload.String)
	}
	if result.Valid && result.String != "" {
		job.Result = json.RawMessage(result.String)
	}
	job.Error = errText.String
	job.LastError = lastErr.String
	job.ClaimToken = claimToken.String
	job.CancelRequested = cancelRequested != 0
	job.HeartbeatAt = sqlitex.NullTime(heartbeat)
	job.StartedAt = sqlitex.NullTime(started)
	job.FinishedAt = sqlitex.NullTime(finished)
	job.CreatedAt = sqlitex.NullTime(created)
	job.UpdatedAt = sqlitex.NullTime(updated)
	return &job, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// loadJob reads one job through either the pool or an open transaction.
func loadJob(ctx context.Context, q queryer, id string) (*Job, error) {
	job, err := scanJob(q.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func nullablePayload(payload json.RawMessage) any {
	if len(payload) == 0 {
		return nil
	}
	return string(payload)
}
