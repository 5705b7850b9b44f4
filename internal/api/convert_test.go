package api_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"mediaforge/internal/api"
	"mediaforge/internal/artifacts"
	"mediaforge/internal/queue"
	"mediaforge/internal/services"
	"mediaforge/internal/stage"
	"mediaforge/internal/workflow"
)

func TestFromJobComputesPercentAndTimestamps(t *testing.T) {
	created := time.Date(2025, 3, 4, 5, 6, 7, 8_000_000, time.UTC)
	job := &queue.Job{
		ID:        "abc",
		Type:      "face-crop",
		MediaID:   7,
		Status:    queue.StatusRunning,
		Priority:  3,
		Progress:  1,
		Total:     4,
		Payload:   json.RawMessage(`{"boxes":[]}`),
		CreatedAt: created,
	}
	dto := api.FromJob(job)
	if dto.Progress.Percent != 25 {
		t.Fatalf("expected 25%%, got %v", dto.Progress.Percent)
	}
	if dto.CreatedAt != "2025-03-04T05:06:07.008Z" {
		t.Fatalf("unexpected createdAt %q", dto.CreatedAt)
	}
	if dto.HeartbeatAt != "" || dto.FinishedAt != "" {
		t.Fatal("zero timestamps must be omitted")
	}
	if string(dto.Payload) != `{"boxes":[]}` {
		t.Fatalf("payload should pass through, got %s", dto.Payload)
	}

	encoded, err := json.Marshal(dto)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(encoded, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := raw["mediaId"]; !ok {
		t.Fatalf("expected camelCase keys, got %s", encoded)
	}
}

func TestFromJobWithoutTotal(t *testing.T) {
	dto := api.FromJob(&queue.Job{ID: "x", Progress: 3})
	if dto.Progress.Percent != 0 {
		t.Fatalf("unknown total should report 0%%, got %v", dto.Progress.Percent)
	}
	if api.FromJob(nil).ID != "" {
		t.Fatal("nil job should convert to zero value")
	}
}

func TestFromStatusSummary(t *testing.T) {
	summary := workflow.StatusSummary{
		Running:    true,
		LastError:  "boom",
		LastJob:    &queue.Job{ID: "last", Status: queue.StatusFailed},
		QueueStats: map[queue.Status]int{queue.StatusPending: 2},
		StageHealth: map[string]stage.Health{
			"thumbnail": stage.Healthy("thumbnail"),
			"preview":   stage.Unhealthy("preview", "ffmpeg missing"),
		},
		Workers:     4,
		BusyWorkers: 1,
	}
	status := api.FromStatusSummary(summary)
	if status.LastJob == nil || status.LastJob.ID != "last" {
		t.Fatalf("unexpected last job %+v", status.LastJob)
	}
	if status.QueueStats["pending"] != 2 || status.QueueStats["done"] != 0 {
		t.Fatalf("stats should list every status: %+v", status.QueueStats)
	}
	if _, ok := status.QueueStats["cancelled"]; !ok {
		t.Fatal("cancelled count missing")
	}
	if len(status.StageHealth) != 2 || status.StageHealth[0].Name != "preview" || status.StageHealth[0].Ready {
		t.Fatalf("stage health should be sorted by name: %+v", status.StageHealth)
	}
}

func TestFromArtifact(t *testing.T) {
	rec := &artifacts.Record{MediaID: 3, Type: "sprite", Status: artifacts.StatusStale, Path: "/a/s.jpg"}
	dto := api.FromArtifact(rec)
	if dto.Status != "stale" || dto.Path != "/a/s.jpg" || dto.SourceMTime != "" {
		t.Fatalf("unexpected artifact dto %+v", dto)
	}
	if got := api.FromArtifacts([]*artifacts.Record{rec, nil}); len(got) != 1 {
		t.Fatalf("nil rows should be skipped, got %d", len(got))
	}
}

func TestParseStatuses(t *testing.T) {
	got, err := api.ParseStatuses("pending, Running", "failed")
	if err != nil {
		t.Fatalf("ParseStatuses: %v", err)
	}
	if len(got) != 3 || got[1] != queue.StatusRunning {
		t.Fatalf("unexpected statuses %v", got)
	}
	if _, err := api.ParseStatuses("paused"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseTime(t *testing.T) {
	ts, err := api.ParseTime("2025-01-02T03:04:05Z")
	if err != nil || ts.Year() != 2025 {
		t.Fatalf("ParseTime: %v %v", ts, err)
	}
	if ts, err := api.ParseTime(""); err != nil || !ts.IsZero() {
		t.Fatalf("empty input should be zero: %v %v", ts, err)
	}
	if _, err := api.ParseTime("yesterday"); err == nil {
		t.Fatal("expected error for invalid timestamp")
	}
}
