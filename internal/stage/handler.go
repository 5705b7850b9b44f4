package stage

import (
	"context"
	"encoding/json"
	"time"

	"mediaforge/internal/queue"
)

// Handler describes the contract the workflow manager needs from each job type.
type Handler interface {
	// Validate checks a payload at enqueue time; nothing is stored when it fails.
	Validate(payload json.RawMessage) error
	Execute(ctx context.Context, in Input, progress Reporter) (Output, error)
	HealthCheck(context.Context) Health
}

// Input is everything a routine needs to produce one artifact.
type Input struct {
	Job *queue.Job
	// MediaID and ModTime are zero for jobs that target a bare path.
	MediaID    int64
	ModTime    time.Time
	Source     string
	Tags       []string
	Performers []string
}

// Output is what a routine hands back on success.
type Output struct {
	// Path is the artifact file or directory; empty when the job type
	// produces no artifact.
	Path string
	// Payload is stored on the ledger row (geometry, crop list, and so on).
	Payload json.RawMessage
	// Result is the job's result summary.
	Result json.RawMessage
}

// Reporter records progress for the running job. A non-nil error means the
// routine must stop: either cancellation was requested or the job is no
// longer owned by this worker.
type Reporter interface {
	Progress(ctx context.Context, done, total int64) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, done, total int64) error

// Progress implements Reporter.
func (f ReporterFunc) Progress(ctx context.Context, done, total int64) error {
	return f(ctx, done, total)
}

// NopReporter discards progress.
var NopReporter Reporter = ReporterFunc(func(context.Context, int64, int64) error { return nil })
