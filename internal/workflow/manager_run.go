package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mediaforge/internal/logging"
	"mediaforge/internal/notifications"
	"mediaforge/internal/queue"
	"mediaforge/internal/services"
)

// maxClaimFailures is how many consecutive store errors the dispatcher
// tolerates before treating the store as broken.
const maxClaimFailures = 3

// Start runs preflight checks and begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.fatalErr != nil {
		err := m.fatalErr
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	if err := m.runPreflightChecks(ctx, m.logger); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	workers := max(m.cfg.Engine.Workers, 1)
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	// ready holds one token per idle worker, so the dispatcher only claims
	// a job when someone can take it at once.
	ready := make(chan struct{}, workers)
	jobs := make(chan *queue.Job)

	m.wg.Add(workers + 2)
	for slot := 1; slot <= workers; slot++ {
		go m.runWorker(runCtx, slot, ready, jobs)
	}
	go m.runDispatcher(runCtx, ready, jobs)
	go m.sweeper.Run(runCtx, &m.wg, m.cfg.SweepInterval(), m.raiseFatal)

	m.logger.Info("workflow started",
		logging.Int("workers", workers),
		logging.Any("caps", m.cfg.Concurrency),
		logging.Duration("heartbeat_interval", m.cfg.HeartbeatInterval()),
		logging.Duration("heartbeat_timeout", m.cfg.HeartbeatTimeout()),
		logging.String(logging.FieldEventType, "workflow_started"),
	)
	return nil
}

// Stop terminates background processing and waits for completion. Jobs still
// running are left for the sweeper of the next process.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stopped"))
}

// raiseFatal records a store failure, stops every goroutine, and reports it
// once on the Fatal channel.
func (m *Manager) raiseFatal(err error) {
	m.mu.Lock()
	if m.fatalErr != nil {
		m.mu.Unlock()
		return
	}
	m.fatalErr = err
	m.lastErr = err
	cancel := m.cancel
	m.mu.Unlock()

	logging.ErrorWithContext(m.logger, "job store failure; engine stopping", "engine_fatal",
		logging.Error(err),
		logging.String(logging.FieldErrorKind, string(services.KindStore)),
		logging.String(logging.FieldErrorHint, services.Details(err).Hint),
		logging.String(logging.FieldImpact, "no jobs are dispatched until the daemon restarts"),
	)
	if cancel != nil {
		cancel()
	}
	m.notify(context.Background(), notifications.EventEngineStopped, notifications.Payload{"error": err.Error()})
	select {
	case m.fatal <- err:
	default:
	}
}

func (m *Manager) runDispatcher(ctx context.Context, ready <-chan struct{}, jobs chan<- *queue.Job) {
	defer m.wg.Done()
	logger := logging.NewComponentLogger(m.base, "dispatcher")
	opts := queue.ClaimOptions{Caps: m.cfg.Concurrency, Types: m.registry.Types()}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ready:
		}

		job := m.claimNext(ctx, logger, opts)
		if job == nil {
			return
		}
		logger.Debug("job dispatched",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldJobType, job.Type),
			logging.Int("priority", job.Priority),
		)
		select {
		case jobs <- job:
		case <-ctx.Done():
			// The claim stays running without a worker; the sweeper requeues
			// it once its heartbeat goes stale.
			return
		}
	}
}

// claimNext blocks until a job is claimed or ctx ends. It returns nil on
// shutdown or after a fatal store failure.
func (m *Manager) claimNext(ctx context.Context, logger *slog.Logger, opts queue.ClaimOptions) *queue.Job {
	failures := 0
	for {
		job, err := m.store.ClaimNext(ctx, opts)
		switch {
		case err == nil && job != nil:
			return job
		case err == nil:
			failures = 0
			if !m.waitForWork(ctx) {
				return nil
			}
		case ctx.Err() != nil:
			return nil
		default:
			failures++
			if failures >= maxClaimFailures {
				m.raiseFatal(err)
				return nil
			}
			m.handleClaimError(ctx, logger, err)
		}
	}
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to claim next job",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_claim_failed"),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(m.cfg.ErrorRetryInterval()):
	}
}

// waitForWork sleeps until the poll interval passes or Wake is called. It
// returns false on shutdown.
func (m *Manager) waitForWork(ctx context.Context) bool {
	timer := time.NewTimer(m.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-m.wake:
		return true
	case <-timer.C:
		return true
	}
}

func (m *Manager) runWorker(ctx context.Context, slot int, ready chan<- struct{}, jobs <-chan *queue.Job) {
	defer m.wg.Done()
	for {
		select {
		case ready <- struct{}{}:
		case <-ctx.Done():
			return
		}
		select {
		case job := <-jobs:
			m.execute(ctx, slot, job)
		case <-ctx.Done():
			return
		}
	}
}
