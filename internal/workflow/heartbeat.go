package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mediaforge/internal/logging"
	"mediaforge/internal/queue"
	"mediaforge/internal/services"
)

// HeartbeatMonitor keeps running jobs alive in the store.
type HeartbeatMonitor struct {
	store    *queue.Store
	logger   *slog.Logger
	interval time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store *queue.Store, logger *slog.Logger, interval time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:    store,
		logger:   logger,
		interval: interval,
	}
}

// jobSession is the worker's view of one claimed job. The heartbeat loop
// and the progress reporter share it to signal cancellation and lost
// ownership.
type jobSession struct {
	store *queue.Store
	job   *queue.Job

	cancelRequested atomic.Bool
	abandoned       atomic.Bool
	// stop cancels the routine's context when ownership is lost.
	stop context.CancelFunc
}

func newJobSession(store *queue.Store, job *queue.Job, stop context.CancelFunc) *jobSession {
	s := &jobSession{store: store, job: job, stop: stop}
	s.cancelRequested.Store(job.CancelRequested)
	return s
}

func (s *jobSession) observe(cp queue.Checkpoint) {
	if cp.CancelRequested {
		s.cancelRequested.Store(true)
	}
}

func (s *jobSession) abandon() {
	s.abandoned.Store(true)
	s.stop()
}

// Progress implements stage.Reporter. Each call is a checkpoint: it records
// progress, refreshes the heartbeat, and returns an error when the routine
// should stop.
func (s *jobSession) Progress(ctx context.Context, done, total int64) error {
	cp, err := s.store.ReportProgress(ctx, s.job.ID, s.job.ClaimToken, done, total)
	if err != nil {
		if errors.Is(err, queue.ErrOwnershipLost) {
			s.abandon()
		}
		return err
	}
	s.observe(cp)
	if s.cancelRequested.Load() {
		return services.Wrap(services.ErrCancelled, "workflow", "checkpoint", "cancellation requested", nil)
	}
	return nil
}

// StartLoop refreshes the session's heartbeat until ctx ends. Losing
// ownership stops the routine; other failures are logged and the next tick
// tries again, since a missed beat only matters once the timeout passes.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, session *jobSession) {
	defer wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, logging.NewComponentLogger(h.logger, "workflow-heartbeat"))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cp, err := h.store.Heartbeat(ctx, session.job.ID, session.job.ClaimToken)
			switch {
			case err == nil:
				if cp.CancelRequested && !session.cancelRequested.Load() {
					logger.Info("cancellation requested; stopping at next checkpoint",
						logging.String(logging.FieldEventType, "cancel_observed"))
				}
				session.observe(cp)
			case errors.Is(err, queue.ErrOwnershipLost):
				logging.WarnWithContext(logger, "job ownership lost; abandoning", "ownership_lost",
					logging.String(logging.FieldErrorHint, "the sweeper requeued the job after a stale heartbeat"),
					logging.String(logging.FieldImpact, "this worker stops without writing results"),
				)
				session.abandon()
				return
			case errors.Is(err, context.Canceled):
				return
			default:
				logger.Warn("heartbeat update failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_failed"),
					logging.String(logging.FieldErrorHint, "check queue database access"),
					logging.String(logging.FieldImpact, "the job is requeued if heartbeats keep failing"),
				)
			}
		}
	}
}
