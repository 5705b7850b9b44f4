package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a job in a transport-friendly format.
type Job struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	MediaID         int64           `json:"mediaId,omitempty"`
	TargetPath      string          `json:"targetPath,omitempty"`
	Status          string          `json:"status"`
	Priority        int             `json:"priority"`
	Progress        JobProgress     `json:"progress"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	LastError       string          `json:"lastError,omitempty"`
	Retries         int             `json:"retries"`
	CancelRequested bool            `json:"cancelRequested"`
	HeartbeatAt     string          `json:"heartbeatAt,omitempty"`
	StartedAt       string          `json:"startedAt,omitempty"`
	FinishedAt      string          `json:"finishedAt,omitempty"`
	CreatedAt       string          `json:"createdAt,omitempty"`
	UpdatedAt       string          `json:"updatedAt,omitempty"`
}

// JobProgress captures a job's counters.
type JobProgress struct {
	Done    int64   `json:"done"`
	Total   int64   `json:"total"`
	Percent float64 `json:"percent"`
}

// EnqueueRequest is the control-surface enqueue call.
type EnqueueRequest struct {
	Type       string          `json:"type"`
	MediaID    int64           `json:"mediaId,omitempty"`
	TargetPath string          `json:"targetPath,omitempty"`
	Priority   int             `json:"priority"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// EnqueueResponse reports the job that now carries the request.
type EnqueueResponse struct {
	Job       Job  `json:"job"`
	Coalesced bool `json:"coalesced"`
}

// JobListResponse wraps a collection of jobs for API responses.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// RetryRequest lists failed jobs to retry; empty means every failed job.
type RetryRequest struct {
	IDs []string `json:"ids,omitempty"`
}

// CountResponse reports how many rows an operation changed.
type CountResponse struct {
	Count int64 `json:"count"`
}

// Artifact is a ledger row.
type Artifact struct {
	MediaID     int64           `json:"mediaId"`
	Type        string          `json:"type"`
	Path        string          `json:"path,omitempty"`
	Status      string          `json:"status"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	SourceMTime string          `json:"sourceMtime,omitempty"`
	JobID       string          `json:"jobId,omitempty"`
	Error       string          `json:"error,omitempty"`
	GeneratedAt string          `json:"generatedAt,omitempty"`
	UpdatedAt   string          `json:"updatedAt,omitempty"`
}

// ArtifactListResponse wraps the artifacts of one media item.
type ArtifactListResponse struct {
	MediaID   int64      `json:"mediaId"`
	Artifacts []Artifact `json:"artifacts"`
}

// Media is a catalog row.
type Media struct {
	ID              int64    `json:"id"`
	Path            string   `json:"path"`
	ModTime         string   `json:"modTime,omitempty"`
	Size            int64    `json:"size"`
	DurationSeconds float64  `json:"durationSeconds,omitempty"`
	Width           int      `json:"width,omitempty"`
	Height          int      `json:"height,omitempty"`
	Format          string   `json:"format,omitempty"`
	Fingerprint     string   `json:"fingerprint,omitempty"`
	Rating          int      `json:"rating,omitempty"`
	Favorite        bool     `json:"favorite,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Performers      []string `json:"performers,omitempty"`
}

// RegisterMediaRequest is what a catalog scanner reports for one file.
// ModTime and Size are read from disk when omitted.
type RegisterMediaRequest struct {
	Path    string `json:"path"`
	ModTime string `json:"modTime,omitempty"`
	Size    int64  `json:"size,omitempty"`
}

// RegisterMediaResponse reports the stored row and what changed.
type RegisterMediaResponse struct {
	Media   Media  `json:"media"`
	Outcome string `json:"outcome"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	QueueStats  map[string]int `json:"queueStats"`
	LastError   string         `json:"lastError,omitempty"`
	LastJob     *Job           `json:"lastJob,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
	Workers     int            `json:"workers"`
	BusyWorkers int            `json:"busyWorkers"`
}

// StageHealth mirrors readiness reporting for job routines.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// PreflightCheck is one filesystem readiness check.
type PreflightCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	DatabasePath string             `json:"databasePath"`
	LockFilePath string             `json:"lockFilePath"`
	APIAddress   string             `json:"apiAddress,omitempty"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies"`
	Preflight    []PreflightCheck   `json:"preflight"`
}

// QueueHealth is the operator view of queue liveness.
type QueueHealth struct {
	Total           int    `json:"total"`
	Pending         int    `json:"pending"`
	Running         int    `json:"running"`
	Done            int    `json:"done"`
	Failed          int    `json:"failed"`
	Cancelled       int    `json:"cancelled"`
	StaleRunning    int    `json:"staleRunning"`
	CancelRequested int    `json:"cancelRequested"`
	OldestPending   string `json:"oldestPending,omitempty"`
}

// DatabaseHealth reports schema and integrity checks.
type DatabaseHealth struct {
	DBPath         string   `json:"dbPath"`
	SchemaVersion  string   `json:"schemaVersion"`
	TableExists    bool     `json:"tableExists"`
	ColumnsPresent []string `json:"columnsPresent,omitempty"`
	MissingColumns []string `json:"missingColumns,omitempty"`
	IntegrityCheck bool     `json:"integrityCheck"`
	TotalJobs      int      `json:"totalJobs"`
	Error          string   `json:"error,omitempty"`
}

// LogTailResponse carries daemon log lines and the offset to resume from.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// ErrorResponse is the body of every non-2xx HTTP reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
