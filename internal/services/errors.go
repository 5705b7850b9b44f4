package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrConfiguration = errors.New("configuration error")
	ErrTransient     = errors.New("transient failure")
	ErrTimeout       = errors.New("timeout")
	ErrExternalTool  = errors.New("external tool error")
	ErrUnsupported   = errors.New("unsupported input")
	ErrStore         = errors.New("store failure")
	ErrCancelled     = errors.New("cancelled")
)

// Kind is the failure class used to decide a job's fate.
type Kind string

const (
	KindValidation Kind = "validation"
	KindTransient  Kind = "transient"
	KindPermanent  Kind = "permanent"
	KindStore      Kind = "store"
	KindCancelled  Kind = "cancelled"
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error onto the engine taxonomy. Unknown errors are
// permanent so a broken routine surfaces as failed instead of looping.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStore):
		return KindStore
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrTransient), errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindPermanent
	}
}

// IsTransient reports whether err should be retried through the requeue path.
func IsTransient(err error) bool {
	return Classify(err) == KindTransient
}

// ErrorDetails is the structured breakdown of an error used for log fields.
type ErrorDetails struct {
	Kind    Kind
	Marker  string
	Message string
	Hint    string
}

// Details extracts log-friendly fields from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: Classify(err), Message: err.Error()}
	for _, marker := range []error{ErrStore, ErrValidation, ErrNotFound, ErrConfiguration, ErrTimeout, ErrTransient, ErrExternalTool, ErrUnsupported, ErrCancelled} {
		if errors.Is(err, marker) {
			details.Marker = marker.Error()
			break
		}
	}
	details.Hint = hintFor(details.Kind, err)
	return details
}

func hintFor(kind Kind, err error) string {
	switch {
	case kind == KindStore:
		return "check database file permissions and free disk space"
	case errors.Is(err, ErrConfiguration):
		return "review the configuration file and restart the daemon"
	case errors.Is(err, ErrExternalTool):
		return "run the external tool manually against the source to inspect its output"
	case kind == KindTransient:
		return "the sweeper will requeue the job after the heartbeat timeout"
	case kind == KindValidation:
		return "fix the job payload and enqueue again"
	case errors.Is(err, ErrNotFound):
		return "verify the media file still exists under media_root"
	default:
		return "inspect the job error and retry once the cause is fixed"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{component, operation, message} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
