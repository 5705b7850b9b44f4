package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"mediaforge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.ArtifactDir = filepath.Join(base, "artifacts")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.MediaRoot = filepath.Join(base, "media")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Artifacts.MinFreeGiB = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	for _, dir := range []string{cfgVal.Paths.DataDir, cfgVal.Paths.ArtifactDir, cfgVal.Paths.LogDir, cfgVal.Paths.MediaRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	return builder.cfg
}

// WithWorkers overrides the worker pool size.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.Workers = n
	}
}

// WithConcurrency overrides one job type's running cap.
func WithConcurrency(jobType string, limit int) ConfigOption {
	return func(b *configBuilder) {
		if b.cfg.Concurrency == nil {
			b.cfg.Concurrency = map[string]int{}
		}
		b.cfg.Concurrency[jobType] = limit
	}
}

// WithFastEngine shortens the engine timings so tests finish quickly. The
// heartbeat and sweep values stay in seconds; tests that age heartbeats
// should drive the store clock instead of sleeping.
func WithFastEngine() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.DispatchPollIntervalMS = 20
		b.cfg.Engine.HeartbeatInterval = 1
		b.cfg.Engine.HeartbeatTimeout = 2
		b.cfg.Engine.SweepInterval = 1
		b.cfg.Engine.ErrorRetryInterval = 1
		b.cfg.Engine.ShutdownGrace = 2
	}
}

// WithAPIToken sets the bearer token the HTTP API requires.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg and ffprobe are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
