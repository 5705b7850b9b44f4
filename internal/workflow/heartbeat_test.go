package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mediaforge/internal/artifacts"
	"mediaforge/internal/generators"
	"mediaforge/internal/logging"
	"mediaforge/internal/queue"
	"mediaforge/internal/services"
	"mediaforge/internal/testsupport"
)

func claimOne(t *testing.T) (*queue.Store, *queue.Job) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	store := testsupport.MustOpenStore(t, db)
	if _, err := store.Enqueue(context.Background(), queue.NewJob{Type: "thumbnail", TargetPath: "clip.mp4"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := store.ClaimNext(context.Background(), queue.ClaimOptions{})
	if err != nil || job == nil {
		t.Fatalf("ClaimNext: %v %+v", err, job)
	}
	return store, job
}

func TestHeartbeatLoopAbandonsAfterOwnershipLoss(t *testing.T) {
	store, job := claimOne(t)
	// Requeue the job out from under the worker.
	report, err := store.ReclaimStale(context.Background(), time.Now().Add(time.Hour), 3)
	if err != nil || len(report.Requeued) != 1 {
		t.Fatalf("ReclaimStale: %v %+v", err, report)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	session := newJobSession(store, job, stop)
	monitor := NewHeartbeatMonitor(store, logging.NewNop(), 10*time.Millisecond)
	var wg sync.WaitGroup
	wg.Add(1)
	go monitor.StartLoop(ctx, &wg, session)

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("routine context was not cancelled")
	}
	wg.Wait()
	if !session.abandoned.Load() {
		t.Fatal("session should be abandoned")
	}
}

func TestHeartbeatLoopObservesCancellation(t *testing.T) {
	store, job := claimOne(t)
	if _, err := store.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	session := newJobSession(store, job, stop)
	monitor := NewHeartbeatMonitor(store, logging.NewNop(), 10*time.Millisecond)
	var wg sync.WaitGroup
	wg.Add(1)
	go monitor.StartLoop(ctx, &wg, session)

	waitFor(t, 5*time.Second, session.cancelRequested.Load)
	stop()
	wg.Wait()
	if session.abandoned.Load() {
		t.Fatal("a cancellation request is not an ownership loss")
	}
}

func TestSessionProgressReturnsCancellation(t *testing.T) {
	store, job := claimOne(t)
	session := newJobSession(store, job, func() {})

	if err := session.Progress(context.Background(), 1, 4); err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if _, err := store.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	err := session.Progress(context.Background(), 2, 4)
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	got, _ := store.Get(context.Background(), job.ID)
	if got.Progress != 2 || got.Total != 4 {
		t.Fatalf("checkpoint should still record progress: %+v", got)
	}
}

func TestSweeperRequeuesAndSkipsFreshJobs(t *testing.T) {
	store, job := claimOne(t)
	sweeper := NewSweeper(store, nil, nil, logging.NewNop(), time.Minute, 3)

	report, err := sweeper.Sweep(context.Background())
	if err != nil || !report.Empty() {
		t.Fatalf("fresh job must not be reclaimed: %v %+v", err, report)
	}

	sweeper.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	report, err = sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(report.Requeued) != 1 || report.Requeued[0] != job.ID {
		t.Fatalf("expected requeue of %s, got %+v", job.ID, report)
	}
	got, _ := store.Get(context.Background(), job.ID)
	if got.Status != queue.StatusPending || got.Retries != 1 || !got.HeartbeatAt.IsZero() {
		t.Fatalf("unexpected requeued job: %+v", got)
	}
}

func TestSweeperMarksLostArtifactFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	store := testsupport.MustOpenStore(t, db)
	ledger := testsupport.MustOpenLedger(t, db)
	media := testsupport.NewMedia(t, testsupport.MustOpenCatalog(t, db), "clip.mp4")
	registry := generators.NewRegistry(generators.Spec{Type: generators.TypeThumbnail, Artifact: true})

	if _, err := store.Enqueue(context.Background(), queue.NewJob{Type: generators.TypeThumbnail, MediaID: media.ID}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := store.ClaimNext(context.Background(), queue.ClaimOptions{})
	if err != nil || job == nil {
		t.Fatalf("ClaimNext: %v %+v", err, job)
	}
	if err := ledger.MarkGenerating(context.Background(), media.ID, job.Type, job.ID); err != nil {
		t.Fatalf("MarkGenerating: %v", err)
	}

	sweeper := NewSweeper(store, ledger, registry, logging.NewNop(), time.Minute, 0)
	sweeper.now = func() time.Time { return time.Now().Add(time.Hour) }
	report, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(report.Failed) != 1 {
		t.Fatalf("expected lost worker failure, got %+v", report)
	}
	rec, err := ledger.Lookup(context.Background(), media.ID, job.Type)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec == nil || rec.Status != artifacts.StatusFailed || rec.Error != queue.LostWorkerError {
		t.Fatalf("unexpected ledger row: %+v", rec)
	}
}

func TestSweeperMarksCancelledArtifactFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	store := testsupport.MustOpenStore(t, db)
	ledger := testsupport.MustOpenLedger(t, db)
	media := testsupport.NewMedia(t, testsupport.MustOpenCatalog(t, db), "clip.mp4")
	registry := generators.NewRegistry(generators.Spec{Type: generators.TypeThumbnail, Artifact: true})
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, queue.NewJob{Type: generators.TypeThumbnail, MediaID: media.ID}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := store.ClaimNext(ctx, queue.ClaimOptions{})
	if err != nil || job == nil {
		t.Fatalf("ClaimNext: %v %+v", err, job)
	}
	if err := ledger.MarkGenerating(ctx, media.ID, job.Type, job.ID); err != nil {
		t.Fatalf("MarkGenerating: %v", err)
	}
	if _, err := store.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	sweeper := NewSweeper(store, ledger, registry, logging.NewNop(), time.Minute, 3)
	sweeper.now = func() time.Time { return time.Now().Add(time.Hour) }
	report, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(report.Cancelled) != 1 {
		t.Fatalf("expected stale cancellation, got %+v", report)
	}
	got, err := store.Get(ctx, job.ID)
	if err != nil || got.Status != queue.StatusCancelled {
		t.Fatalf("expected cancelled job, got %+v (%v)", got, err)
	}
	rec, err := ledger.Lookup(ctx, media.ID, job.Type)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec == nil || rec.Status != artifacts.StatusFailed || rec.Error != "cancelled" {
		t.Fatalf("artifact left behind a cancelled job: %+v", rec)
	}
}
