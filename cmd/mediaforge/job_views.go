package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"mediaforge/internal/api"
	"mediaforge/internal/queue"
)

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func jobTarget(job api.Job) string {
	switch {
	case job.MediaID > 0 && job.TargetPath != "":
		return fmt.Sprintf("#%d %s", job.MediaID, job.TargetPath)
	case job.MediaID > 0:
		return fmt.Sprintf("#%d", job.MediaID)
	default:
		return job.TargetPath
	}
}

func jobProgress(p api.JobProgress) string {
	if p.Total <= 0 {
		if p.Done > 0 {
			return strconv.FormatInt(p.Done, 10)
		}
		return "-"
	}
	return fmt.Sprintf("%d/%d (%.0f%%)", p.Done, p.Total, p.Percent)
}

func jobStatus(job api.Job) string {
	if job.CancelRequested && job.Status == string(queue.StatusRunning) {
		return job.Status + " (cancelling)"
	}
	return job.Status
}

func jobNote(job api.Job) string {
	if job.Error != "" {
		return job.Error
	}
	return job.LastError
}

func buildJobRows(jobs []api.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			shortID(job.ID),
			job.Type,
			jobTarget(job),
			strconv.Itoa(job.Priority),
			jobStatus(job),
			jobProgress(job.Progress),
			strconv.Itoa(job.Retries),
			jobNote(job),
		})
	}
	return rows
}

func renderJobTable(jobs []api.Job) string {
	return renderTable(
		[]string{"ID", "Type", "Target", "Priority", "Status", "Progress", "Retries", "Note"},
		buildJobRows(jobs),
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignRight, alignLeft},
	)
}

// buildQueueStatusRows lists statuses in lifecycle order, skipping empty ones.
func buildQueueStatusRows(stats map[string]int) [][]string {
	order := make(map[string]int, len(queue.AllStatuses()))
	for i, s := range queue.AllStatuses() {
		order[string(s)] = i
	}
	names := make([]string, 0, len(stats))
	for name, count := range stats {
		if count > 0 {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return order[names[i]] < order[names[j]] })
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, strconv.Itoa(stats[name])})
	}
	return rows
}

func jobDetailLines(job api.Job) []string {
	lines := []string{
		"ID:        " + job.ID,
		"Type:      " + job.Type,
		"Target:    " + jobTarget(job),
		"Status:    " + jobStatus(job),
		"Priority:  " + strconv.Itoa(job.Priority),
		"Progress:  " + jobProgress(job.Progress),
		"Retries:   " + strconv.Itoa(job.Retries),
		"Created:   " + job.CreatedAt,
	}
	optional := []struct{ label, value string }{
		{"Started:   ", job.StartedAt},
		{"Heartbeat: ", job.HeartbeatAt},
		{"Finished:  ", job.FinishedAt},
		{"Error:     ", job.Error},
		{"Last err:  ", job.LastError},
		{"Payload:   ", strings.TrimSpace(string(job.Payload))},
		{"Result:    ", strings.TrimSpace(string(job.Result))},
	}
	for _, o := range optional {
		if o.value != "" {
			lines = append(lines, o.label+o.value)
		}
	}
	return lines
}
