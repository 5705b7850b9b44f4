package workflow

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"mediaforge/internal/artifacts"
	"mediaforge/internal/generators"
	"mediaforge/internal/logging"
	"mediaforge/internal/notifications"
	"mediaforge/internal/queue"
	"mediaforge/internal/services"
)

// Sweeper requeues running jobs whose heartbeat went stale. It is the only
// component that moves a running job back to pending.
type Sweeper struct {
	store      *queue.Store
	ledger     *artifacts.Ledger
	registry   *generators.Registry
	notifier   notifications.Service
	logger     *slog.Logger
	timeout    time.Duration
	maxRetries int
	now        func() time.Time
}

// NewSweeper builds a sweeper that treats heartbeats older than timeout as
// lost and gives up on a job after maxRetries requeues.
func NewSweeper(store *queue.Store, ledger *artifacts.Ledger, registry *generators.Registry, logger *slog.Logger, timeout time.Duration, maxRetries int) *Sweeper {
	return &Sweeper{
		store:      store,
		ledger:     ledger,
		registry:   registry,
		logger:     logging.NewComponentLogger(logger, "sweeper"),
		timeout:    timeout,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// Run sweeps once immediately and then every interval until ctx ends. A
// store failure is handed to onFatal and ends the loop.
func (s *Sweeper) Run(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, onFatal func(error)) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			if services.Classify(err) == services.KindStore {
				onFatal(err)
				return
			}
			s.logger.Warn("stale job sweep failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "sweep_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
				logging.String(logging.FieldImpact, "stuck jobs stay running until the next sweep"),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep performs one recovery pass and returns what it changed.
func (s *Sweeper) Sweep(ctx context.Context) (queue.ReclaimReport, error) {
	if s.timeout <= 0 {
		return queue.ReclaimReport{}, nil
	}
	cutoff := s.now().Add(-s.timeout)
	report, err := s.store.ReclaimStale(ctx, cutoff, s.maxRetries)
	if err != nil {
		return report, err
	}
	if report.Empty() {
		return report, nil
	}

	for _, id := range report.Requeued {
		s.logger.Info("stale job requeued",
			logging.String(logging.FieldJobID, id),
			logging.String(logging.FieldEventType, "job_requeued"),
		)
	}
	for _, id := range report.Cancelled {
		s.logger.Info("stale job cancelled",
			logging.String(logging.FieldJobID, id),
			logging.String(logging.FieldEventType, "job_cancelled"),
		)
		if err := s.markArtifact(ctx, id, "cancelled"); err != nil {
			return report, err
		}
	}
	for _, id := range report.Failed {
		logging.ErrorWithContext(s.logger, "job failed after exhausting retries", "job_lost_worker",
			logging.String(logging.FieldJobID, id),
			logging.Int("retry_limit", s.maxRetries),
			logging.String(logging.FieldErrorHint, "inspect last_error and retry the job once the cause is fixed"),
			logging.String(logging.FieldImpact, "the job stays failed for manual inspection"),
		)
		if err := s.markArtifact(ctx, id, queue.LostWorkerError); err != nil {
			return report, err
		}
	}
	if len(report.Failed) > 0 && s.notifier != nil {
		payload := notifications.Payload{
			"count":      strconv.Itoa(len(report.Failed)),
			"retryLimit": strconv.Itoa(s.maxRetries),
		}
		if err := s.notifier.Publish(ctx, notifications.EventJobsLost, payload); err != nil {
			s.logger.Warn("lost job notification failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "notification_failed"),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
				logging.String(logging.FieldImpact, "operators were not alerted"),
			)
		}
	}
	return report, nil
}

// markArtifact mirrors a sweeper finalization onto the artifact row so it
// does not stay generating once no job is active.
func (s *Sweeper) markArtifact(ctx context.Context, id, message string) error {
	job, err := s.store.Get(ctx, id)
	if err != nil || job == nil || !job.HasMedia() {
		return err
	}
	spec, ok := s.registry.Lookup(job.Type)
	if !ok || !spec.Artifact {
		return nil
	}
	err = s.ledger.MarkFailed(ctx, job.MediaID, job.Type, job.ID, message)
	if services.Classify(err) == services.KindStore {
		return err
	}
	return nil
}
