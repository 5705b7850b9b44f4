package queue

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"mediaforge/internal/sqlitex"
)

// Get returns the job with the given id, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	job, err := loadJob(ctx, s.db.SQL(), id)
	if errors.Is(err, ErrJobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get", err)
	}
	return job, nil
}

// ListPending returns pending jobs in dispatch order.
func (s *Store) ListPending(ctx context.Context) ([]*Job, error) {
	return s.query(ctx, "list pending",
		"SELECT "+jobColumns+" FROM jobs WHERE status = ? ORDER BY priority DESC, created_at ASC, seq ASC",
		StatusPending)
}

// ListRunning returns running jobs, longest running first.
func (s *Store) ListRunning(ctx context.Context) ([]*Job, error) {
	return s.query(ctx, "list running",
		"SELECT "+jobColumns+" FROM jobs WHERE status = ? ORDER BY started_at ASC, seq ASC",
		StatusRunning)
}

// List returns jobs matching filter in creation order.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+sqlitex.Placeholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if jobType := strings.TrimSpace(filter.Type); jobType != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, jobType)
	}
	if filter.MediaID > 0 {
		clauses = append(clauses, "media_id = ?")
		args = append(args, filter.MediaID)
	}
	query := "SELECT " + jobColumns + " FROM jobs"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY seq ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return s.query(ctx, "list", query, args...)
}

func (s *Store) query(ctx context.Context, operation, query string, args ...any) ([]*Job, error) {
	var jobs []*Job
	err := sqlitex.RetryOnBusy(ctx, func() error {
		jobs = nil
		rows, err := s.db.SQL().QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storeErr(operation, err)
	}
	return jobs, nil
}

var _ queryer = (*sql.DB)(nil)
