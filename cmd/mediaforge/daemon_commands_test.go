package main

import (
	"fmt"
	"testing"

	"mediaforge/internal/api"
)

func TestStatusOffline(t *testing.T) {
	env := setupCLITestEnv(t)
	media := registerClip(t, env, "clip.mp4")
	mustRunCLI(t, env, "enqueue", "thumbnail", "--media", fmt.Sprint(media.ID))

	out := mustRunCLI(t, env, "status")
	requireContains(t, out, "== System Status ==")
	requireContains(t, out, "Not running")
	requireContains(t, out, "== Dependencies ==")
	requireContains(t, out, "== Queue Status ==")
	requireContains(t, out, "pending")

	out = mustRunCLI(t, env, "status", "--json")
	status := decodeJSON[api.DaemonStatus](t, out)
	if status.Running {
		t.Fatal("expected offline status")
	}
	if status.Workflow.QueueStats["pending"] != 1 {
		t.Fatalf("unexpected queue stats %+v", status.Workflow.QueueStats)
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	out := mustRunCLI(t, env, "stop")
	requireContains(t, out, "Daemon is not running")
}

func TestBuildQueueStatusRowsOrdersByLifecycle(t *testing.T) {
	rows := buildQueueStatusRows(map[string]int{"failed": 2, "pending": 1, "done": 0, "running": 3})
	if len(rows) != 3 {
		t.Fatalf("expected empty statuses skipped, got %v", rows)
	}
	want := []string{"pending", "running", "failed"}
	for i, name := range want {
		if rows[i][0] != name {
			t.Fatalf("row %d = %v, want %s", i, rows[i], name)
		}
	}
}
