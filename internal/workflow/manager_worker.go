package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediaforge/internal/catalog"
	"mediaforge/internal/generators"
	"mediaforge/internal/logging"
	"mediaforge/internal/queue"
	"mediaforge/internal/services"
	"mediaforge/internal/stage"
)

// finalizeTimeout bounds the store writes that record a job's outcome.
// They run on a context detached from shutdown so a routine that finished
// is not thrown away by a concurrent Stop.
const finalizeTimeout = 30 * time.Second

// execute runs one claimed job to a terminal state, or leaves it running
// for the sweeper when the process is shutting down or ownership was lost.
func (m *Manager) execute(ctx context.Context, slot int, job *queue.Job) {
	m.markBusy(1)
	defer m.markBusy(-1)
	m.setLastJob(job)

	jobCtx := withJobContext(ctx, job, slot, uuid.NewString())
	logger := m.jobLogger(jobCtx, job)
	logger.Info("job started",
		logging.Int("priority", job.Priority),
		logging.Int("retries", job.Retries),
		logging.Int64("resume_from", job.Progress),
		logging.String(logging.FieldEventType, "job_started"),
	)

	spec, ok := m.registry.Lookup(job.Type)
	if !ok {
		err := services.Wrap(services.ErrUnsupported, "workflow", "execute", fmt.Sprintf("no routine registered for %q", job.Type), nil)
		m.finishWithError(jobCtx, logger, job, spec, stage.Input{Job: job}, err)
		return
	}

	in, err := m.prepareInput(jobCtx, job)
	if err != nil {
		m.finishWithError(jobCtx, logger, job, spec, in, err)
		return
	}
	if spec.Artifact && in.MediaID > 0 {
		if err := m.ledger.MarkGenerating(jobCtx, in.MediaID, job.Type, job.ID); err != nil {
			m.finishWithError(jobCtx, logger, job, spec, in, err)
			return
		}
	}

	runCtx, stop := context.WithCancel(jobCtx)
	session := newJobSession(m.store, job, stop)
	var hb sync.WaitGroup
	hb.Add(1)
	go m.heartbeat.StartLoop(runCtx, &hb, session)

	started := time.Now()
	out, runErr := m.runHandler(runCtx, spec, in, session)
	stop()
	hb.Wait()

	if session.abandoned.Load() {
		logger.Info("job abandoned after ownership loss",
			logging.Duration("elapsed", time.Since(started)),
			logging.String(logging.FieldEventType, "job_abandoned"),
		)
		return
	}
	if runErr != nil && ctx.Err() != nil {
		logger.Info("daemon shutting down; job left for the sweeper",
			logging.String(logging.FieldEventType, "job_interrupted"),
		)
		return
	}

	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(jobCtx), finalizeTimeout)
	defer cancel()
	if runErr != nil {
		m.finishWithError(finalCtx, logger, job, spec, in, runErr)
		return
	}
	m.complete(finalCtx, logger, job, spec, in, out, time.Since(started))
}

// runHandler converts a routine panic into a permanent failure so one bad
// input cannot take the worker down.
func (m *Manager) runHandler(ctx context.Context, spec generators.Spec, in stage.Input, progress stage.Reporter) (out stage.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = services.Wrap(services.ErrUnsupported, "workflow", spec.Type, fmt.Sprintf("routine panicked: %v", r), nil)
		}
	}()
	return spec.Handler.Execute(ctx, in, progress)
}

// prepareInput resolves the job's source file and payload context.
func (m *Manager) prepareInput(ctx context.Context, job *queue.Job) (stage.Input, error) {
	in := stage.Input{Job: job}
	if !job.HasMedia() {
		if job.TargetPath == "" {
			return in, services.Wrap(services.ErrNotFound, "workflow", "prepare", "target media was deleted", nil)
		}
		in.Source = m.cfg.ResolveMediaPath(job.TargetPath)
		return in, nil
	}

	media, err := m.media.Get(ctx, job.MediaID)
	if err != nil {
		return in, err
	}
	if media == nil {
		return in, services.Wrap(services.ErrNotFound, "workflow", "prepare", fmt.Sprintf("media %d no longer exists", job.MediaID), nil)
	}
	in.MediaID = media.ID
	in.ModTime = media.ModTime
	in.Source = m.cfg.ResolveMediaPath(media.Path)
	if job.TargetPath != "" {
		in.Source = m.cfg.ResolveMediaPath(job.TargetPath)
	}

	tags, err := m.media.TagsFor(ctx, media.ID)
	if err != nil {
		return in, err
	}
	performers, err := m.media.PerformersFor(ctx, media.ID)
	if err != nil {
		return in, err
	}
	in.Tags = catalog.Names(tags)
	in.Performers = catalog.Names(performers)
	return in, nil
}

func withJobContext(ctx context.Context, job *queue.Job, slot int, requestID string) context.Context {
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithJobType(ctx, job.Type)
	ctx = services.WithWorker(ctx, slot)
	return services.WithRequestID(ctx, requestID)
}

func (m *Manager) jobLogger(ctx context.Context, job *queue.Job) *slog.Logger {
	logger := logging.WithContext(ctx, logging.NewComponentLogger(m.base, "workflow-worker"))
	if job.HasMedia() {
		logger = logger.With(logging.Int64(logging.FieldMediaID, job.MediaID))
	}
	return logger
}

func (m *Manager) markBusy(delta int) {
	m.mu.Lock()
	m.busy += delta
	m.mu.Unlock()
}
