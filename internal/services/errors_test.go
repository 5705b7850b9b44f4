package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"mediaforge/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "thumbnail", "render", "ffmpeg exited 1", base)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"thumbnail", "render", "ffmpeg exited 1", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient default, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want services.Kind
	}{
		{"nil", nil, ""},
		{"validation", services.Wrap(services.ErrValidation, "enqueue", "payload", "bad", nil), services.KindValidation},
		{"timeout", services.Wrap(services.ErrTimeout, "preview", "render", "slow", nil), services.KindTransient},
		{"deadline", fmt.Errorf("run: %w", context.DeadlineExceeded), services.KindTransient},
		{"tool", services.Wrap(services.ErrExternalTool, "sprite", "render", "exit 1", nil), services.KindPermanent},
		{"unknown", errors.New("odd"), services.KindPermanent},
		{"store", services.Wrap(services.ErrStore, "queue", "complete", "disk full", nil), services.KindStore},
		{"cancelled", services.ErrCancelled, services.KindCancelled},
	}
	for _, tc := range cases {
		if got := services.Classify(tc.err); got != tc.want {
			t.Fatalf("%s: Classify = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestDetailsCarriesMarkerAndHint(t *testing.T) {
	err := services.Wrap(services.ErrTimeout, "preview", "render", "exceeded", nil)
	details := services.Details(err)
	if details.Kind != services.KindTransient {
		t.Fatalf("unexpected kind %q", details.Kind)
	}
	if details.Marker != services.ErrTimeout.Error() {
		t.Fatalf("unexpected marker %q", details.Marker)
	}
	if details.Hint == "" || details.Message == "" {
		t.Fatalf("expected hint and message, got %+v", details)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected no job id on empty context")
	}
	ctx = services.WithJobID(ctx, "job-1")
	ctx = services.WithJobType(ctx, "thumbnail")
	ctx = services.WithWorker(ctx, 0)
	ctx = services.WithRequestID(ctx, "req-1")
	ctx = services.WithRequestID(ctx, "")

	if id, _ := services.JobIDFromContext(ctx); id != "job-1" {
		t.Fatalf("unexpected job id %q", id)
	}
	if jt, _ := services.JobTypeFromContext(ctx); jt != "thumbnail" {
		t.Fatalf("unexpected job type %q", jt)
	}
	if slot, ok := services.WorkerFromContext(ctx); !ok || slot != 0 {
		t.Fatalf("unexpected worker slot %d ok=%v", slot, ok)
	}
	if rid, _ := services.RequestIDFromContext(ctx); rid != "req-1" {
		t.Fatalf("empty request id must not overwrite, got %q", rid)
	}
}
