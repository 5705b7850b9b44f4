package api

import (
	"context"
	"time"

	"mediaforge/internal/queue"
)

// QueueReader abstracts queue persistence interactions needed for API queries.
type QueueReader interface {
	Get(ctx context.Context, id string) (*queue.Job, error)
	List(ctx context.Context, filter queue.ListFilter) ([]*queue.Job, error)
	Stats(ctx context.Context) (map[queue.Status]int, error)
	Health(ctx context.Context, staleCutoff time.Time) (queue.HealthSummary, error)
	CheckHealth(ctx context.Context) (queue.DatabaseHealth, error)
}

// QueueService exposes read-only queue operations returning API DTOs. The
// daemon and the CLI's offline mode share it.
type QueueService struct {
	store            QueueReader
	heartbeatTimeout time.Duration
}

// NewQueueService constructs a QueueService around the provided reader.
// heartbeatTimeout decides which running jobs count as stale in Health.
func NewQueueService(store QueueReader, heartbeatTimeout time.Duration) *QueueService {
	if store == nil {
		return nil
	}
	return &QueueService{store: store, heartbeatTimeout: heartbeatTimeout}
}

// List returns jobs matching filter, oldest first.
func (s *QueueService) List(ctx context.Context, filter queue.ListFilter) ([]Job, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	jobs, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return FromJobs(jobs), nil
}

// Pending lists jobs waiting for dispatch.
func (s *QueueService) Pending(ctx context.Context) ([]Job, error) {
	return s.List(ctx, queue.ListFilter{Statuses: []queue.Status{queue.StatusPending}})
}

// Running lists jobs held by a worker.
func (s *QueueService) Running(ctx context.Context) ([]Job, error) {
	return s.List(ctx, queue.ListFilter{Statuses: []queue.Status{queue.StatusRunning}})
}

// Stats returns queue summary counts keyed by status string.
func (s *QueueService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeQueueStats(stats), nil
}

// Describe fetches a single job; nil when it does not exist.
func (s *QueueService) Describe(ctx context.Context, id string) (*Job, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	job, err := s.store.Get(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	dto := FromJob(job)
	return &dto, nil
}

// Health reports queue liveness using the configured heartbeat timeout.
func (s *QueueService) Health(ctx context.Context) (QueueHealth, error) {
	if s == nil || s.store == nil {
		return QueueHealth{}, nil
	}
	h, err := s.store.Health(ctx, time.Now().Add(-s.heartbeatTimeout))
	if err != nil {
		return QueueHealth{}, err
	}
	return FromQueueHealth(h), nil
}

// DatabaseHealth reports schema and integrity checks.
func (s *QueueService) DatabaseHealth(ctx context.Context) (DatabaseHealth, error) {
	if s == nil || s.store == nil {
		return DatabaseHealth{}, nil
	}
	h, err := s.store.CheckHealth(ctx)
	if err != nil {
		return DatabaseHealth{}, err
	}
	return FromDatabaseHealth(h), nil
}
