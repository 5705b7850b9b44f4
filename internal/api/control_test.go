package api_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"mediaforge/internal/api"
	"mediaforge/internal/generators"
	"mediaforge/internal/logging"
	"mediaforge/internal/queue"
	"mediaforge/internal/services"
	"mediaforge/internal/testsupport"
)

type countingWaker struct{ n atomic.Int32 }

func (w *countingWaker) Wake() { w.n.Add(1) }

type controlFixture struct {
	ctl   *api.Control
	store *queue.Store
	waker *countingWaker
	media string
}

func newControl(t *testing.T) controlFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	store := testsupport.MustOpenStore(t, db)
	ledger := testsupport.MustOpenLedger(t, db)
	cat := testsupport.MustOpenCatalog(t, db)
	registry := generators.Default(cfg, nil, nil, cat, logging.NewNop())
	waker := &countingWaker{}
	ctl := api.NewControl(cfg, store, ledger, cat, registry, waker, logging.NewNop())
	return controlFixture{ctl: ctl, store: store, waker: waker, media: cfg.Paths.MediaRoot}
}

func TestControlEnqueueValidatesAndCoalesces(t *testing.T) {
	f := newControl(t)
	ctx := context.Background()

	if _, err := f.ctl.Enqueue(ctx, api.EnqueueRequest{Type: "bogus", TargetPath: "a.mp4"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown type, got %v", err)
	}
	if _, err := f.ctl.Enqueue(ctx, api.EnqueueRequest{Type: "thumbnail", TargetPath: "../a.mp4"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for escaping path, got %v", err)
	}
	if _, err := f.ctl.Enqueue(ctx, api.EnqueueRequest{Type: "thumbnail", MediaID: 99}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown media, got %v", err)
	}
	pending, err := f.ctl.ListPending(ctx)
	if err != nil || len(pending) != 0 {
		t.Fatalf("rejected requests must not be stored: %v %+v", err, pending)
	}

	first, err := f.ctl.Enqueue(ctx, api.EnqueueRequest{Type: "thumbnail", TargetPath: "clips/a.mp4", Priority: 1})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if first.Coalesced || first.Job.Status != "pending" {
		t.Fatalf("unexpected first enqueue: %+v", first)
	}
	second, err := f.ctl.Enqueue(ctx, api.EnqueueRequest{Type: "thumbnail", TargetPath: "clips/a.mp4", Priority: 5})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !second.Coalesced || second.Job.ID != first.Job.ID || second.Job.Priority != 5 {
		t.Fatalf("expected coalesced job with raised priority: %+v", second)
	}
	if f.waker.n.Load() != 2 {
		t.Fatalf("expected two wakes, got %d", f.waker.n.Load())
	}
}

func TestControlCancelAndGet(t *testing.T) {
	f := newControl(t)
	ctx := context.Background()

	res, err := f.ctl.Enqueue(ctx, api.EnqueueRequest{Type: "thumbnail", TargetPath: "a.mp4"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := f.ctl.Cancel(ctx, res.Job.ID)
	if err != nil || job.Status != "cancelled" {
		t.Fatalf("Cancel: %v %+v", err, job)
	}
	if _, err := f.ctl.Cancel(ctx, res.Job.ID); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	got, err := f.ctl.GetJob(ctx, res.Job.ID)
	if err != nil || got.Status != "cancelled" {
		t.Fatalf("GetJob: %v %+v", err, got)
	}
	if _, err := f.ctl.GetJob(ctx, "missing"); !errors.Is(err, queue.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestControlRegisterMediaAndLabels(t *testing.T) {
	f := newControl(t)
	ctx := context.Background()

	testsupport.WriteFile(t, filepath.Join(f.media, "clips", "a.mp4"), 64)
	reg, err := f.ctl.RegisterMedia(ctx, api.RegisterMediaRequest{Path: "clips/a.mp4"})
	if err != nil {
		t.Fatalf("RegisterMedia: %v", err)
	}
	if reg.Outcome != "created" || reg.Media.Size != 64 {
		t.Fatalf("unexpected registration: %+v", reg)
	}
	again, err := f.ctl.RegisterMedia(ctx, api.RegisterMediaRequest{Path: "clips/a.mp4"})
	if err != nil || again.Outcome != "unchanged" || again.Media.ID != reg.Media.ID {
		t.Fatalf("second registration: %v %+v", err, again)
	}
	if _, err := f.ctl.RegisterMedia(ctx, api.RegisterMediaRequest{Path: "clips/missing.mp4"}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for missing file, got %v", err)
	}

	media, err := f.ctl.LinkLabels(ctx, reg.Media.ID, api.LabelTag, []string{"Beach", "beach ", "Sunset"})
	if err != nil {
		t.Fatalf("LinkLabels: %v", err)
	}
	if len(media.Tags) != 2 {
		t.Fatalf("expected two distinct tags, got %+v", media.Tags)
	}
	if _, err := f.ctl.LinkLabels(ctx, reg.Media.ID, "studio", []string{"x"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for label kind, got %v", err)
	}
	if _, err := f.ctl.GetMedia(ctx, 404); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	list, err := f.ctl.ArtifactsForMedia(ctx, reg.Media.ID)
	if err != nil || list.MediaID != reg.Media.ID || len(list.Artifacts) != 0 {
		t.Fatalf("ArtifactsForMedia: %v %+v", err, list)
	}
}

func TestControlRetryFailedWakesDispatcher(t *testing.T) {
	f := newControl(t)
	ctx := context.Background()

	res, err := f.ctl.Enqueue(ctx, api.EnqueueRequest{Type: "thumbnail", TargetPath: "a.mp4"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, err := f.store.ClaimNext(ctx, queue.ClaimOptions{})
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext: %v %+v", err, claimed)
	}
	if _, err := f.store.Fail(ctx, claimed.ID, claimed.ClaimToken, "boom"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	before := f.waker.n.Load()
	n, err := f.ctl.RetryFailed(ctx, nil)
	if err != nil || n != 1 {
		t.Fatalf("RetryFailed: %v %d", err, n)
	}
	if f.waker.n.Load() != before+1 {
		t.Fatal("retry should wake the dispatcher")
	}
	job, err := f.ctl.GetJob(ctx, res.Job.ID)
	if err != nil || job.Status != "pending" {
		t.Fatalf("GetJob: %v %+v", err, job)
	}
}
