package queue

import (
	"context"
	"errors"
	"fmt"

	"mediaforge/internal/services"
)

var (
	// ErrJobNotFound is returned when no job has the requested id.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when the job's current state forbids the request.
	ErrInvalidTransition = errors.New("invalid job transition")
	// ErrOwnershipLost is returned when the caller's claim token no longer owns the job.
	ErrOwnershipLost = errors.New("job ownership lost")
	// ErrUnknownMedia is returned when a job references a media row that does not exist.
	ErrUnknownMedia = errors.New("unknown media")
)

// storeErr tags database failures as store errors. Context cancellation is
// passed through so shutdown is not mistaken for a durability failure.
func storeErr(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", operation, err)
	}
	for _, domain := range []error{ErrJobNotFound, ErrInvalidTransition, ErrOwnershipLost, ErrUnknownMedia} {
		if errors.Is(err, domain) {
			return err
		}
	}
	return services.Wrap(services.ErrStore, "queue", operation, "", err)
}
