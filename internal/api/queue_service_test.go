package api_test

import (
	"context"
	"testing"
	"time"

	"mediaforge/internal/api"
	"mediaforge/internal/queue"
	"mediaforge/internal/testsupport"
)

func TestQueueServiceListsAndDescribes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	store := testsupport.MustOpenStore(t, db)
	ctx := context.Background()

	first, err := store.Enqueue(ctx, queue.NewJob{Type: "thumbnail", TargetPath: "a.mp4"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.Enqueue(ctx, queue.NewJob{Type: "thumbnail", TargetPath: "b.mp4"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.ClaimNext(ctx, queue.ClaimOptions{}); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	svc := api.NewQueueService(store, time.Minute)
	pending, err := svc.Pending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("Pending: %v %+v", err, pending)
	}
	running, err := svc.Running(ctx)
	if err != nil || len(running) != 1 || running[0].ID != first.Job.ID {
		t.Fatalf("Running: %v %+v", err, running)
	}
	if api.ActiveJobs(append(pending, running...)) != 2 {
		t.Fatal("expected two active jobs")
	}

	job, err := svc.Describe(ctx, first.Job.ID)
	if err != nil || job == nil || job.Status != "running" {
		t.Fatalf("Describe: %v %+v", err, job)
	}
	missing, err := svc.Describe(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("missing job should be nil: %v %+v", err, missing)
	}

	stats, err := svc.Stats(ctx)
	if err != nil || stats["pending"] != 1 || stats["running"] != 1 {
		t.Fatalf("Stats: %v %+v", err, stats)
	}
	health, err := svc.Health(ctx)
	if err != nil || health.Total != 2 || health.StaleRunning != 0 {
		t.Fatalf("Health: %v %+v", err, health)
	}
	dbHealth, err := svc.DatabaseHealth(ctx)
	if err != nil || !dbHealth.IntegrityCheck || !dbHealth.TableExists {
		t.Fatalf("DatabaseHealth: %v %+v", err, dbHealth)
	}
}

func TestNilQueueServiceIsSafe(t *testing.T) {
	var svc *api.QueueService
	if jobs, err := svc.Pending(context.Background()); err != nil || jobs != nil {
		t.Fatalf("nil service should return nothing: %v %v", jobs, err)
	}
	if api.NewQueueService(nil, time.Minute) != nil {
		t.Fatal("nil reader should yield nil service")
	}
}
