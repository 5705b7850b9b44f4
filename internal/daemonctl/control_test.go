package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"mediaforge/internal/daemonctl"
	"mediaforge/internal/queue"
	"mediaforge/internal/testsupport"
)

func TestBuildStatusSnapshotOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	db := testsupport.MustOpenDB(t, cfg)
	store := testsupport.MustOpenStore(t, db)
	if _, err := store.Enqueue(context.Background(), queue.NewJob{Type: "thumbnail", TargetPath: "a.mp4"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	status, err := daemonctl.BuildStatusSnapshot(context.Background(), cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if status.Running {
		t.Fatal("offline snapshot must not report running")
	}
	if status.Workflow.QueueStats["pending"] != 1 || status.Workflow.QueueStats["done"] != 0 {
		t.Fatalf("unexpected queue stats: %+v", status.Workflow.QueueStats)
	}
	if len(status.Dependencies) == 0 || len(status.Preflight) == 0 {
		t.Fatalf("expected local checks in snapshot: %+v", status)
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemonctl.StopAndTerminate(context.Background(), cfg, time.Second); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	alive, pid, err := daemonctl.ProcessInfo(context.Background(), cfg.SocketPath())
	if err != nil || alive || pid != 0 {
		t.Fatalf("ProcessInfo: %v %v %d", err, alive, pid)
	}
}

func TestForceKillRefusesCurrentProcess(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "mediaforge.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if _, err := daemonctl.ForceKillProcess(pidPath, "", 0); err == nil {
		t.Fatal("expected refusal to kill the current process")
	}
	if _, err := daemonctl.ForceKillProcess(filepath.Join(t.TempDir(), "missing.pid"), "", 0); err == nil {
		t.Fatal("expected error without a pid")
	}
}
