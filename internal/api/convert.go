package api

import (
	"sort"
	"time"

	"mediaforge/internal/artifacts"
	"mediaforge/internal/catalog"
	"mediaforge/internal/deps"
	"mediaforge/internal/preflight"
	"mediaforge/internal/queue"
	"mediaforge/internal/stage"
	"mediaforge/internal/workflow"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// FromJob converts a queue record to its API representation.
func FromJob(job *queue.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:         job.ID,
		Type:       job.Type,
		MediaID:    job.MediaID,
		TargetPath: job.TargetPath,
		Status:     string(job.Status),
		Priority:   job.Priority,
		Progress: JobProgress{
			Done:  job.Progress,
			Total: job.Total,
		},
		Payload:         job.Payload,
		Result:          job.Result,
		Error:           job.Error,
		LastError:       job.LastError,
		Retries:         job.Retries,
		CancelRequested: job.CancelRequested,
		HeartbeatAt:     formatTime(job.HeartbeatAt),
		StartedAt:       formatTime(job.StartedAt),
		FinishedAt:      formatTime(job.FinishedAt),
		CreatedAt:       formatTime(job.CreatedAt),
		UpdatedAt:       formatTime(job.UpdatedAt),
	}
	if job.Total > 0 {
		dto.Progress.Percent = float64(job.Progress) * 100 / float64(job.Total)
	}
	return dto
}

// FromJobs converts a slice of queue records.
func FromJobs(jobs []*queue.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		if job == nil {
			continue
		}
		out = append(out, FromJob(job))
	}
	return out
}

// FromArtifact converts a ledger row.
func FromArtifact(rec *artifacts.Record) Artifact {
	if rec == nil {
		return Artifact{}
	}
	return Artifact{
		MediaID:     rec.MediaID,
		Type:        rec.Type,
		Path:        rec.Path,
		Status:      string(rec.Status),
		Payload:     rec.Payload,
		SourceMTime: formatTime(rec.SourceMTime),
		JobID:       rec.JobID,
		Error:       rec.Error,
		GeneratedAt: formatTime(rec.GeneratedAt),
		UpdatedAt:   formatTime(rec.UpdatedAt),
	}
}

// FromArtifacts converts ledger rows.
func FromArtifacts(recs []*artifacts.Record) []Artifact {
	out := make([]Artifact, 0, len(recs))
	for _, rec := range recs {
		if rec != nil {
			out = append(out, FromArtifact(rec))
		}
	}
	return out
}

// FromMedia converts a catalog row plus its label names.
func FromMedia(media *catalog.Media, tags, performers []string) Media {
	if media == nil {
		return Media{}
	}
	return Media{
		ID:              media.ID,
		Path:            media.Path,
		ModTime:         formatTime(media.ModTime),
		Size:            media.Size,
		DurationSeconds: media.DurationSeconds,
		Width:           media.Width,
		Height:          media.Height,
		Format:          media.Format,
		Fingerprint:     media.Fingerprint,
		Rating:          media.Rating,
		Favorite:        media.Favorite,
		Tags:            tags,
		Performers:      performers,
	}
}

// FromStatusSummary converts the workflow status summary to its API representation.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:     summary.Running,
		QueueStats:  MergeQueueStats(summary.QueueStats),
		LastError:   summary.LastError,
		StageHealth: StageHealthSlice(summary.StageHealth),
		Workers:     summary.Workers,
		BusyWorkers: summary.BusyWorkers,
	}
	if summary.LastJob != nil {
		job := FromJob(summary.LastJob)
		status.LastJob = &job
	}
	return status
}

// MergeQueueStats reports every status, including those with no jobs.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(queue.AllStatuses()))
	for _, status := range queue.AllStatuses() {
		out[string(status)] = stats[status]
	}
	return out
}

// StageHealthSlice orders routine health by name.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FromDependencies converts binary availability results.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, DependencyStatus{
			Name:        s.Name,
			Command:     s.Command,
			Description: s.Description,
			Optional:    s.Optional,
			Available:   s.Available,
			Detail:      s.Detail,
		})
	}
	return out
}

// FromPreflight converts filesystem check results.
func FromPreflight(results []preflight.Result) []PreflightCheck {
	out := make([]PreflightCheck, 0, len(results))
	for _, r := range results {
		out = append(out, PreflightCheck{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	return out
}

// FromQueueHealth converts the queue liveness summary.
func FromQueueHealth(h queue.HealthSummary) QueueHealth {
	return QueueHealth{
		Total:           h.Total,
		Pending:         h.Pending,
		Running:         h.Running,
		Done:            h.Done,
		Failed:          h.Failed,
		Cancelled:       h.Cancelled,
		StaleRunning:    h.StaleRunning,
		CancelRequested: h.CancelRequested,
		OldestPending:   formatTime(h.OldestPending),
	}
}

// FromDatabaseHealth converts the schema and integrity report.
func FromDatabaseHealth(h queue.DatabaseHealth) DatabaseHealth {
	return DatabaseHealth{
		DBPath:         h.DBPath,
		SchemaVersion:  h.SchemaVersion,
		TableExists:    h.TableExists,
		ColumnsPresent: h.ColumnsPresent,
		MissingColumns: h.MissingColumns,
		IntegrityCheck: h.IntegrityCheck,
		TotalJobs:      h.TotalJobs,
		Error:          h.Error,
	}
}
