package api

import (
	"fmt"
	"strings"
	"time"

	"mediaforge/internal/queue"
	"mediaforge/internal/services"
)

// ParseStatuses turns user-supplied status names (comma lists allowed) into
// queue statuses. Unknown names are a validation error.
func ParseStatuses(values ...string) ([]queue.Status, error) {
	var out []queue.Status
	for _, value := range values {
		for part := range strings.SplitSeq(value, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			status, ok := queue.ParseStatus(part)
			if !ok {
				return nil, services.Wrap(services.ErrValidation, "api", "parse status",
					fmt.Sprintf("unknown status %q", part), nil)
			}
			out = append(out, status)
		}
	}
	return out, nil
}

// ParseTime accepts the timestamp formats the API emits.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{dateTimeFormat, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, services.Wrap(services.ErrValidation, "api", "parse time",
		fmt.Sprintf("invalid timestamp %q", value), nil)
}

// ActiveJobs counts the jobs in the list that are pending or running.
func ActiveJobs(jobs []Job) int {
	n := 0
	for _, job := range jobs {
		if job.Status == string(queue.StatusPending) || job.Status == string(queue.StatusRunning) {
			n++
		}
	}
	return n
}
