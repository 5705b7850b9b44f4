package main

import (
	"fmt"
	"testing"

	"mediaforge/internal/api"
)

func TestMediaLabelsAndShow(t *testing.T) {
	env := setupCLITestEnv(t)
	media := registerClip(t, env, "shows/pilot.mkv")
	id := fmt.Sprint(media.ID)

	out := mustRunCLI(t, env, "media", "tag", id, "Outdoor", "Night")
	requireContains(t, out, "tags: Night, Outdoor")

	out = mustRunCLI(t, env, "media", "performer", "#"+id, "Ana Lee")
	requireContains(t, out, "performers: Ana Lee")

	out = mustRunCLI(t, env, "media", "show", id, "--json")
	got := decodeJSON[api.Media](t, out)
	if got.Path != "shows/pilot.mkv" || len(got.Tags) != 2 || len(got.Performers) != 1 {
		t.Fatalf("unexpected media %+v", got)
	}

	out = mustRunCLI(t, env, "media", "artifacts", id)
	requireContains(t, out, "No artifacts for media #"+id)

	out = mustRunCLI(t, env, "media", "register", "shows/pilot.mkv")
	requireContains(t, out, "(unchanged)")
}

func TestMediaCommandErrors(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := runCLI(t, env, "media", "show", "abc"); err == nil {
		t.Fatal("expected invalid id error")
	}
	if _, err := runCLI(t, env, "media", "show", "42"); err == nil {
		t.Fatal("expected not found error")
	}
	if _, err := runCLI(t, env, "media", "register", "missing.mp4"); err == nil {
		t.Fatal("expected missing file error")
	}
	if _, err := runCLI(t, env, "media", "register", "../escape.mp4", "--mtime", "2024-01-02T03:04:05Z"); err == nil {
		t.Fatal("expected path outside media root to be rejected")
	}
}
