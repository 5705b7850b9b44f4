package services

import "context"

type contextKey string

const (
	jobIDKey     contextKey = "job_id"
	jobTypeKey   contextKey = "job_type"
	workerKey    contextKey = "worker"
	requestIDKey contextKey = "request_id"
)

// WithJobID annotates context with the job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithJobType annotates context with the job type.
func WithJobType(ctx context.Context, jobType string) context.Context {
	if jobType == "" {
		return ctx
	}
	return context.WithValue(ctx, jobTypeKey, jobType)
}

// JobTypeFromContext returns the job type if present.
func JobTypeFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobTypeKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithWorker annotates context with the worker slot number.
func WithWorker(ctx context.Context, slot int) context.Context {
	return context.WithValue(ctx, workerKey, slot)
}

// WorkerFromContext returns the worker slot if present.
func WorkerFromContext(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(workerKey).(int)
	return v, ok
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
