package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"mediaforge/internal/api"
	"mediaforge/internal/config"
	"mediaforge/internal/daemon"
	"mediaforge/internal/generators"
	"mediaforge/internal/ipc"
	"mediaforge/internal/logging"
	"mediaforge/internal/queue"
	"mediaforge/internal/testsupport"
	"mediaforge/internal/workflow"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	socketPath string
	store      *queue.Store
}

// setupCLITestEnv writes a config for a fresh workspace. No daemon listens
// on socketPath, so commands fall back to the local database.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.Paths.APIBind = ""

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		configPath: configPath,
		socketPath: filepath.Join(base, "absent.sock"),
	}
}

// startDaemon serves IPC for env without starting the worker pool, so queued
// jobs stay pending.
func (env *cliTestEnv) startDaemon(t *testing.T) {
	t.Helper()

	db := testsupport.MustOpenDB(t, env.cfg)
	store := testsupport.MustOpenStore(t, db)
	ledger := testsupport.MustOpenLedger(t, db)
	cat := testsupport.MustOpenCatalog(t, db)
	logger := logging.NewNop()
	registry := generators.Default(env.cfg, nil, nil, cat, logger)
	mgr := workflow.NewManager(env.cfg, store, ledger, cat, registry, logger)
	control := api.NewControl(env.cfg, store, ledger, cat, registry, mgr, logger)
	d, err := daemon.New(env.cfg, control, mgr, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	socket := filepath.Join(t.TempDir(), "cli.sock")
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping daemon-backed CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	env.socketPath = socket
	env.store = store
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", env.socketPath, "--config", env.configPath}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func mustRunCLI(t *testing.T, env *cliTestEnv, args ...string) string {
	t.Helper()
	out, err := runCLI(t, env, args...)
	if err != nil {
		t.Fatalf("mediaforge %s: %v\noutput: %s", strings.Join(args, " "), err, out)
	}
	return out
}

func decodeJSON[T any](t *testing.T, raw string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return v
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
