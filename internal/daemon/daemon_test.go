package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"mediaforge/internal/api"
	"mediaforge/internal/config"
	"mediaforge/internal/generators"
	"mediaforge/internal/logging"
	"mediaforge/internal/testsupport"
	"mediaforge/internal/workflow"
)

type testEnv struct {
	cfg    *config.Config
	daemon *Daemon
}

func newTestDaemon(t *testing.T, opts ...testsupport.ConfigOption) testEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithFastEngine()}, opts...)...)
	return testEnv{cfg: cfg, daemon: newDaemonForConfig(t, cfg)}
}

func newDaemonForConfig(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()
	db := testsupport.MustOpenDB(t, cfg)
	store := testsupport.MustOpenStore(t, db)
	ledger := testsupport.MustOpenLedger(t, db)
	cat := testsupport.MustOpenCatalog(t, db)
	registry := generators.Default(cfg, nil, nil, cat, logging.NewNop())
	wf := workflow.NewManager(cfg, store, ledger, cat, registry, logging.NewNop())
	control := api.NewControl(cfg, store, ledger, cat, registry, wf, logging.NewNop())
	d, err := New(cfg, control, wf, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(nil, nil, nil, nil); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestDaemonStartStopAndLock(t *testing.T) {
	env := newTestDaemon(t)
	ctx := context.Background()

	if err := env.daemon.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !env.daemon.Running() {
		t.Fatal("daemon should report running")
	}
	if err := env.daemon.Start(ctx); err == nil {
		t.Fatal("second Start should fail")
	}

	second := newDaemonForConfig(t, env.cfg)
	if err := second.Start(ctx); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock contention, got %v", err)
	}

	status := env.daemon.Status(ctx)
	if !status.Running || status.PID == 0 || status.LockFilePath != env.cfg.LockPath() {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.APIAddress == "" || strings.HasSuffix(status.APIAddress, ":0") {
		t.Fatalf("expected bound api address, got %q", status.APIAddress)
	}
	if len(status.Preflight) == 0 {
		t.Fatal("expected preflight results in status")
	}

	resp, err := http.Get("http://" + status.APIAddress + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	var payload api.DaemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if resp.StatusCode != http.StatusOK || !payload.Running {
		t.Fatalf("unexpected status response %d %+v", resp.StatusCode, payload)
	}

	env.daemon.Stop()
	if env.daemon.Running() {
		t.Fatal("daemon should be stopped")
	}
	if err := second.Start(ctx); err != nil {
		t.Fatalf("lock should be free after Stop: %v", err)
	}
}

func TestDaemonWithoutAPIBind(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithFastEngine())
	cfg.Paths.APIBind = ""
	d := newDaemonForConfig(t, cfg)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if addr := d.Status(context.Background()).APIAddress; addr != "" {
		t.Fatalf("expected no api address, got %q", addr)
	}
}
