package ipc

import "mediaforge/internal/api"

// ServiceName is the JSON-RPC receiver name registered by the server.
const ServiceName = "MediaForge"

// StartRequest starts background processing.
type StartRequest struct{}

// StartResponse reports whether the daemon started.
type StartResponse struct {
	Started bool
	Message string
}

// StopRequest stops background processing.
type StopRequest struct{}

// StopResponse acknowledges a stop.
type StopResponse struct {
	Stopped bool
}

// StatusRequest asks for daemon status.
type StatusRequest struct{}

// Shared payloads.
type (
	Job                  = api.Job
	StatusResponse       = api.DaemonStatus
	EnqueueRequest       = api.EnqueueRequest
	EnqueueResponse      = api.EnqueueResponse
	JobResponse          = api.JobResponse
	JobListResponse      = api.JobListResponse
	RetryRequest         = api.RetryRequest
	CountResponse        = api.CountResponse
	QueueHealthResponse  = api.QueueHealth
	DatabaseHealthReply  = api.DatabaseHealth
	RegisterMediaRequest = api.RegisterMediaRequest
	RegisterMediaReply   = api.RegisterMediaResponse
	MediaResponse        = api.Media
	ArtifactListResponse = api.ArtifactListResponse
	LogTailResponse      = api.LogTailResponse
)

// LogTailRequest reads the daemon log. Offset < 0 returns the last Limit
// lines; WaitMillis > 0 with Follow blocks for new lines.
type LogTailRequest struct {
	Offset     int64
	Limit      int
	Follow     bool
	WaitMillis int
	Contains   string
}

// JobRequest addresses one job.
type JobRequest struct {
	ID string
}

// ListRequest filters a job listing. Statuses accepts comma separated values.
type ListRequest struct {
	Statuses []string
	Type     string
	Limit    int
}

// EmptyRequest is used by calls without arguments.
type EmptyRequest struct{}

// PurgeRequest deletes terminal jobs finished before Before (RFC 3339).
type PurgeRequest struct {
	Before string
}

// MediaRequest addresses one media item.
type MediaRequest struct {
	ID int64
}

// LabelRequest attaches tags or performers to a media item.
type LabelRequest struct {
	MediaID int64
	Kind    string
	Names   []string
}
