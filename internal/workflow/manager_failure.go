package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mediaforge/internal/artifacts"
	"mediaforge/internal/generators"
	"mediaforge/internal/logging"
	"mediaforge/internal/notifications"
	"mediaforge/internal/queue"
	"mediaforge/internal/services"
	"mediaforge/internal/stage"
)

// complete writes the ledger row and then marks the job done. A crash
// between the two leaves the job running; the sweeper requeues it and the
// rerun overwrites the same row.
func (m *Manager) complete(ctx context.Context, logger *slog.Logger, job *queue.Job, spec generators.Spec, in stage.Input, out stage.Output, elapsed time.Duration) {
	if spec.Artifact && in.MediaID > 0 {
		_, err := m.ledger.Upsert(ctx, artifacts.Record{
			MediaID:     in.MediaID,
			Type:        job.Type,
			Path:        out.Path,
			Payload:     out.Payload,
			SourceMTime: in.ModTime,
			JobID:       job.ID,
		})
		if err != nil {
			m.finishWithError(ctx, logger, job, spec, in, err)
			return
		}
	}

	status, err := m.store.Complete(ctx, job.ID, job.ClaimToken, out.Result)
	if err != nil {
		m.handleFinalizeError(logger, "complete", err)
		return
	}
	m.recordOutcome(ctx, job)
	if status == queue.StatusCancelled {
		logger.Info("job cancelled after its routine finished",
			logging.String("artifact_path", out.Path),
			logging.String(logging.FieldEventType, "job_cancelled"),
		)
		return
	}
	logger.Info("job completed",
		logging.String("artifact_path", out.Path),
		logging.Duration("elapsed", elapsed),
		logging.String(logging.FieldEventType, "job_completed"),
	)
}

// finishWithError routes a routine failure by its class.
func (m *Manager) finishWithError(ctx context.Context, logger *slog.Logger, job *queue.Job, spec generators.Spec, in stage.Input, runErr error) {
	details := services.Details(runErr)
	message := failureMessage(job, runErr)

	switch details.Kind {
	case services.KindStore:
		m.raiseFatal(runErr)
		return

	case services.KindCancelled:
		err := m.store.FinalizeCancelled(ctx, job.ID, job.ClaimToken)
		if errors.Is(err, queue.ErrInvalidTransition) {
			// The routine stopped without a cancellation request; record
			// it as a failure rather than leave the job running.
			m.failJob(ctx, logger, job, spec, in, message, details)
			return
		}
		if err != nil {
			m.handleFinalizeError(logger, "finalize cancelled", err)
			return
		}
		m.markArtifactFailed(ctx, logger, job, spec, in, "cancelled")
		m.recordOutcome(ctx, job)
		logger.Info("job cancelled", logging.String(logging.FieldEventType, "job_cancelled"))

	case services.KindTransient:
		status, err := m.store.RecordTransient(ctx, job.ID, job.ClaimToken, message)
		if err != nil {
			m.handleFinalizeError(logger, "record transient", err)
			return
		}
		m.setLastError(runErr)
		if status == queue.StatusCancelled {
			m.markArtifactFailed(ctx, logger, job, spec, in, "cancelled")
			logger.Info("job cancelled after a transient failure", logging.String(logging.FieldEventType, "job_cancelled"))
			return
		}
		logging.WarnWithContext(logger, "job hit a transient failure; waiting for requeue", "job_transient_failure",
			logging.Error(runErr),
			logging.String(logging.FieldErrorKind, string(details.Kind)),
			logging.String(logging.FieldErrorHint, details.Hint),
			logging.String(logging.FieldImpact, "the sweeper retries the job after the heartbeat timeout"),
			logging.Int("retries", job.Retries),
		)

	default:
		m.failJob(ctx, logger, job, spec, in, message, details)
	}
}

func (m *Manager) failJob(ctx context.Context, logger *slog.Logger, job *queue.Job, spec generators.Spec, in stage.Input, message string, details services.ErrorDetails) {
	status, err := m.store.Fail(ctx, job.ID, job.ClaimToken, message)
	if err != nil {
		m.handleFinalizeError(logger, "fail", err)
		return
	}
	m.setLastError(errors.New(message))
	m.recordOutcome(ctx, job)
	if status == queue.StatusCancelled {
		m.markArtifactFailed(ctx, logger, job, spec, in, "cancelled")
		logger.Info("job cancelled after a failure",
			logging.String("error_message", message),
			logging.String(logging.FieldEventType, "job_cancelled"),
		)
		return
	}
	m.markArtifactFailed(ctx, logger, job, spec, in, message)
	logging.ErrorWithContext(logger, "job failed", "job_failed",
		logging.String("error_message", message),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.String(logging.FieldErrorHint, details.Hint),
		logging.String(logging.FieldImpact, "no artifact was produced"),
	)
	m.notify(ctx, notifications.EventJobFailed, notifications.Payload{
		"jobType": job.Type,
		"target":  describeTarget(job),
		"error":   message,
	})
}

// notify publishes without letting a delivery problem touch the job.
func (m *Manager) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		m.logger.Warn("notification failed",
			logging.Error(err),
			logging.String("event", string(event)),
			logging.String(logging.FieldEventType, "notification_failed"),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.String(logging.FieldImpact, "operators were not alerted"),
		)
	}
}

func describeTarget(job *queue.Job) string {
	if job.HasMedia() {
		return fmt.Sprintf("media #%d", job.MediaID)
	}
	return job.TargetPath
}

func (m *Manager) markArtifactFailed(ctx context.Context, logger *slog.Logger, job *queue.Job, spec generators.Spec, in stage.Input, message string) {
	if !spec.Artifact || in.MediaID <= 0 {
		return
	}
	err := m.ledger.MarkFailed(ctx, in.MediaID, job.Type, job.ID, message)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrNotFound):
		// media was deleted while the job ran; its rows are gone with it
	case services.Classify(err) == services.KindStore:
		m.raiseFatal(err)
	default:
		logger.Warn("failed to record artifact failure",
			logging.Error(err),
			logging.String(logging.FieldEventType, "artifact_mark_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
	}
}

// handleFinalizeError handles errors from the job's terminal store write.
// Losing ownership here means the sweeper already moved the job; anything
// else is a store failure.
func (m *Manager) handleFinalizeError(logger *slog.Logger, operation string, err error) {
	if errors.Is(err, queue.ErrOwnershipLost) || errors.Is(err, queue.ErrJobNotFound) {
		logging.WarnWithContext(logger, "job changed hands before it was finalized", "ownership_lost",
			logging.String("operation", operation),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "raise engine.heartbeat_timeout if routines regularly outlive it"),
			logging.String(logging.FieldImpact, "the outcome of this run was discarded"),
		)
		return
	}
	m.raiseFatal(err)
}

// recordOutcome refreshes the last-job snapshot with the stored row.
func (m *Manager) recordOutcome(ctx context.Context, job *queue.Job) {
	latest, err := m.store.Get(ctx, job.ID)
	if err == nil && latest != nil {
		m.setLastJob(latest)
	}
}

func failureMessage(job *queue.Job, err error) string {
	message := ""
	if err != nil {
		message = strings.TrimSpace(err.Error())
	}
	if message == "" {
		message = job.Type + " failed without error detail"
	}
	return message
}
