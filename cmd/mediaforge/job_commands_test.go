package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"mediaforge/internal/api"
	"mediaforge/internal/testsupport"
)

func registerClip(t *testing.T, env *cliTestEnv, rel string) api.Media {
	t.Helper()
	testsupport.WriteFile(t, filepath.Join(env.cfg.Paths.MediaRoot, rel), 32)
	out := mustRunCLI(t, env, "media", "register", rel, "--json")
	resp := decodeJSON[api.RegisterMediaResponse](t, out)
	if resp.Outcome != "created" {
		t.Fatalf("expected created outcome, got %q", resp.Outcome)
	}
	return resp.Media
}

func TestOfflineEnqueueCoalescesAndCancels(t *testing.T) {
	env := setupCLITestEnv(t)
	media := registerClip(t, env, "clip.mp4")
	mediaArg := fmt.Sprint(media.ID)

	out := mustRunCLI(t, env, "enqueue", "thumbnail", "--media", mediaArg, "--json")
	first := decodeJSON[api.EnqueueResponse](t, out)
	if first.Coalesced || first.Job.Status != "pending" {
		t.Fatalf("unexpected first enqueue %+v", first)
	}

	out = mustRunCLI(t, env, "enqueue", "thumbnail", "--media", mediaArg, "--priority", "5")
	requireContains(t, out, "Merged into existing thumbnail job "+first.Job.ID)
	requireContains(t, out, "priority 5")
	requireContains(t, out, "Daemon not running")

	out = mustRunCLI(t, env, "jobs", "pending")
	requireContains(t, out, "thumbnail")
	requireContains(t, out, shortID(first.Job.ID))

	out = mustRunCLI(t, env, "show", first.Job.ID, "--json")
	job := decodeJSON[api.Job](t, out)
	if job.Priority != 5 || job.MediaID != media.ID {
		t.Fatalf("unexpected job %+v", job)
	}

	out = mustRunCLI(t, env, "cancel", first.Job.ID)
	requireContains(t, out, "cancelled")

	out = mustRunCLI(t, env, "jobs", "list", "--status", "cancelled", "--json")
	list := decodeJSON[api.JobListResponse](t, out)
	if len(list.Jobs) != 1 || list.Jobs[0].ID != first.Job.ID {
		t.Fatalf("expected cancelled job in list, got %+v", list.Jobs)
	}

	if _, err := runCLI(t, env, "cancel", first.Job.ID); err == nil {
		t.Fatal("expected second cancel to fail")
	}

	out = mustRunCLI(t, env, "jobs", "pending")
	requireContains(t, out, "No pending jobs")

	out = mustRunCLI(t, env, "jobs", "purge")
	requireContains(t, out, "Purged 1 job(s)")
}

func TestEnqueueRejectsInvalidInput(t *testing.T) {
	env := setupCLITestEnv(t)
	media := registerClip(t, env, "clip.mp4")

	cases := []struct {
		name string
		args []string
		want string
	}{
		{"unknown type", []string{"enqueue", "waveform", "--media", fmt.Sprint(media.ID)}, "unknown job type"},
		{"bad payload", []string{"enqueue", "thumbnail", "--media", fmt.Sprint(media.ID), "--payload", "{"}, "valid JSON"},
		{"unknown media", []string{"enqueue", "thumbnail", "--media", "999"}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := runCLI(t, env, tc.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.want != "" && !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}
}

func TestJobsHealthOffline(t *testing.T) {
	env := setupCLITestEnv(t)
	media := registerClip(t, env, "clip.mp4")
	mustRunCLI(t, env, "enqueue", "sprite", "--media", fmt.Sprint(media.ID))

	out := mustRunCLI(t, env, "jobs", "health", "--json")
	health := decodeJSON[struct {
		Queue    api.QueueHealth    `json:"queue"`
		Database api.DatabaseHealth `json:"database"`
	}](t, out)
	if health.Queue.Pending != 1 || health.Queue.Total != 1 {
		t.Fatalf("unexpected queue health %+v", health.Queue)
	}
	if !health.Database.TableExists || !health.Database.IntegrityCheck {
		t.Fatalf("unexpected database health %+v", health.Database)
	}

	out = mustRunCLI(t, env, "jobs", "health")
	requireContains(t, out, "== Queue ==")
	requireContains(t, out, "Integrity check")
}

func TestCommandsUseRunningDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	env.startDaemon(t)
	media := registerClip(t, env, "clip.mp4")

	out := mustRunCLI(t, env, "enqueue", "preview", "--media", fmt.Sprint(media.ID))
	requireContains(t, out, "Queued preview job")
	if strings.Contains(out, "Daemon not running") {
		t.Fatalf("expected daemon-backed enqueue, got %q", out)
	}

	pending, err := env.store.ListPending(t.Context())
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].Type != "preview" {
		t.Fatalf("expected preview job in daemon store, got %+v", pending)
	}

	out = mustRunCLI(t, env, "jobs", "running")
	requireContains(t, out, "No running jobs")
}
