package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// LostWorkerError is recorded when the sweeper gives up on a job whose
// worker stopped heartbeating too many times.
const LostWorkerError = "lost worker"

var allStatuses = []Status{StatusPending, StatusRunning, StatusDone, StatusFailed, StatusCancelled}

// validTransitions lists every edge of the job state machine. running ->
// pending belongs to the sweeper and failed -> pending to manual retry.
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusDone:      true,
		StatusFailed:    true,
		StatusPending:   true,
		StatusCancelled: true,
	},
	StatusFailed: {
		StatusPending: true,
	},
}

// CanTransition reports whether from -> to is a legal job transition.
func CanTransition(from, to Status) bool {
	return validTransitions[from][to]
}

// checkTransition is consulted by every store write that changes a job's
// status; an edge missing from validTransitions is never written.
func checkTransition(id string, from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: job %s cannot move from %s to %s", ErrInvalidTransition, id, from, to)
	}
	return nil
}

// ParseStatus normalizes user input into a Status.
func ParseStatus(value string) (Status, bool) {
	for _, status := range allStatuses {
		if string(status) == value {
			return status, true
		}
	}
	return "", false
}

// AllStatuses returns the statuses in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// IsTerminal reports whether no further automatic transition will occur.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// Job is one unit of queued work.
type Job struct {
	ID              string
	Seq             int64
	Type            string
	MediaID         int64 // zero when the job has no media or the media was deleted
	TargetPath      string
	Status          Status
	Priority        int
	Progress        int64
	Total           int64 // zero when unknown
	Resumable       bool
	Payload         json.RawMessage
	Result          json.RawMessage
	Error           string
	LastError       string
	Retries         int
	CancelRequested bool
	ClaimToken      string
	HeartbeatAt     time.Time
	StartedAt       time.Time
	FinishedAt      time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasMedia reports whether the job still references a media row.
func (j *Job) HasMedia() bool { return j != nil && j.MediaID > 0 }

// NewJob describes an enqueue request that has already passed validation.
type NewJob struct {
	Type       string
	MediaID    int64
	TargetPath string
	Priority   int
	Payload    json.RawMessage
	Resumable  bool
}

// EnqueueResult reports the job the request resolved to.
type EnqueueResult struct {
	Job       *Job
	Coalesced bool
}

// ClaimOptions constrains dispatch.
type ClaimOptions struct {
	// Caps limits simultaneously running jobs per type; missing or zero means uncapped.
	Caps map[string]int
	// Types restricts the claim to these job types when non-empty.
	Types []string
}

// Checkpoint is returned by heartbeat and progress updates.
type Checkpoint struct {
	CancelRequested bool
}

// ReclaimReport lists the jobs one sweep touched.
type ReclaimReport struct {
	Requeued  []string
	Failed    []string
	Cancelled []string
}

// Empty reports whether the sweep found nothing stale.
func (r ReclaimReport) Empty() bool {
	return len(r.Requeued) == 0 && len(r.Failed) == 0 && len(r.Cancelled) == 0
}

// ListFilter selects jobs for List.
type ListFilter struct {
	Statuses []Status
	Type     string
	MediaID  int64
	Limit    int
}

// HealthSummary describes aggregated job counts.
type HealthSummary struct {
	Total           int
	Pending         int
	Running         int
	Done            int
	Failed          int
	Cancelled       int
	StaleRunning    int
	CancelRequested int
	OldestPending   time.Time
}

// DatabaseHealth captures diagnostic information about the jobs table.
type DatabaseHealth struct {
	DBPath         string
	SchemaVersion  string
	TableExists    bool
	ColumnsPresent []string
	MissingColumns []string
	IntegrityCheck bool
	TotalJobs      int
	Error          string
}
