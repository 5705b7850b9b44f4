package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"mediaforge/internal/api"
	"mediaforge/internal/config"
	"mediaforge/internal/logging"
	"mediaforge/internal/logs"
	"mediaforge/internal/preflight"
	"mediaforge/internal/workflow"
)

// Daemon coordinates the background workers and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	control  *api.Control
	workflow *workflow.Manager
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New constructs a daemon around an already wired workflow manager and control surface.
func New(cfg *config.Config, control *api.Control, wf *workflow.Manager, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || control == nil || wf == nil {
		return nil, errors.New("daemon requires config, control surface, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		control:  control,
		workflow: wf,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, then launches the workflow manager and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another mediaforge daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.workflow.Start(d.ctx); err != nil {
		d.release()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(d.ctx); err != nil {
		d.workflow.Stop()
		d.release()
		return err
	}

	d.running.Store(true)
	d.logger.Info("mediaforge daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop shuts the API down, waits for workers to return, and releases the lock.
// Jobs interrupted by shutdown stay running in the store; the next sweep
// requeues them.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.api.stop()
	d.workflow.Stop()
	d.release()
	d.running.Store(false)
	d.logger.Info("mediaforge daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

func (d *Daemon) release() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.ctx = nil
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
		)
	}
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Control exposes the control operations served over HTTP and IPC.
func (d *Daemon) Control() *api.Control {
	return d.control
}

// Fatal delivers the workflow's fatal store error, if one occurs.
func (d *Daemon) Fatal() <-chan error {
	return d.workflow.Fatal()
}

// maxLogWait bounds follow requests below the IPC call timeout.
const maxLogWait = 10 * time.Second

// TailLogs reads the active run log through its stable pointer.
func (d *Daemon) TailLogs(ctx context.Context, opts logs.TailOptions) (api.LogTailResponse, error) {
	opts.Wait = min(opts.Wait, maxLogWait)
	result, err := logs.Tail(ctx, filepath.Join(d.cfg.Paths.LogDir, logs.CurrentName), opts)
	if err != nil {
		return api.LogTailResponse{}, err
	}
	return api.LogTailResponse{Lines: result.Lines, Offset: result.Offset}, nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	summary := d.workflow.Status(ctx)
	report := preflight.Collect(ctx, d.cfg)
	return api.DaemonStatus{
		Running:      d.running.Load() && summary.Running,
		PID:          os.Getpid(),
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
		APIAddress:   d.api.address(),
		Workflow:     api.FromStatusSummary(summary),
		Dependencies: api.FromDependencies(report.Dependencies),
		Preflight:    api.FromPreflight(report.Checks),
	}
}
