package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"mediaforge/internal/api"
	"mediaforge/internal/artifacts"
	"mediaforge/internal/catalog"
	"mediaforge/internal/config"
	"mediaforge/internal/daemon"
	"mediaforge/internal/deps"
	"mediaforge/internal/generators"
	"mediaforge/internal/ipc"
	"mediaforge/internal/logging"
	"mediaforge/internal/logs"
	"mediaforge/internal/media/ffmpeg"
	"mediaforge/internal/queue"
	"mediaforge/internal/sqlitex"
	"mediaforge/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Diagnostic tees every record at DEBUG into a JSON file beside the run log.
	Diagnostic bool
}

// Run opens the job store, starts the daemon and its IPC socket, and blocks
// until a signal arrives or the engine reports a fatal store failure.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("mediaforge-%s.log", runID))
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if opts.Diagnostic {
		debugPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("mediaforge-%s.debug.json", runID))
		debugFile, err := os.OpenFile(debugPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open diagnostic log: %w", err)
		}
		defer debugFile.Close()
		logger = logging.TeeLogger(logger, logging.NewJSONHandler(debugFile, slog.LevelDebug))
		logger.Info("diagnostic logging enabled", logging.String("path", debugPath))
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update mediaforge.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "mediaforge-*.log", Exclude: []string{logPath}},
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "mediaforge-*.debug.json"},
	)
	logDependencySnapshot(logger, cfg)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	db, err := sqlitex.Open(signalCtx, cfg.DatabasePath())
	if err != nil {
		logging.ErrorWithContext(logger, "open job store", "store_open_failed",
			logging.Error(err),
			logging.String("path", cfg.DatabasePath()),
		)
		return err
	}
	defer db.Close()

	store := queue.NewStore(db)
	ledger := artifacts.NewLedger(db)
	cat := catalog.New(db, ledger)
	renderer := ffmpeg.NewRunner(cfg.Tools.FFmpegBinary, cfg.ToolTimeout(), logger)
	registry := generators.Default(cfg, renderer, generators.NewProber(cfg), cat, logger)

	manager := workflow.NewManager(cfg, store, ledger, cat, registry, logger)
	control := api.NewControl(cfg, store, ledger, cat, registry, manager, logger)
	d, err := daemon.New(cfg, control, manager, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logging.WarnWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration and database access, then run mediaforge start"),
			logging.String(logging.FieldImpact, "jobs are accepted but not processed"),
		)
	}

	var runErr error
	select {
	case <-signalCtx.Done():
		logger.Info("mediaforge daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	case runErr = <-d.Fatal():
		logging.ErrorWithContext(logger, "mediaforge daemon exiting after store failure", "daemon_fatal",
			logging.Error(runErr),
			logging.String(logging.FieldImpact, "running jobs are requeued by the next daemon's sweeper"),
		)
	}
	stopWithGrace(logger, d, cfg.ShutdownGrace())
	return runErr
}

// stopWithGrace stops the daemon but gives up waiting after grace. Jobs
// still held by workers stay running in the store for the next sweep.
func stopWithGrace(logger *slog.Logger, d *daemon.Daemon, grace time.Duration) {
	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()
	if grace <= 0 {
		<-done
		return
	}
	select {
	case <-done:
	case <-time.After(grace):
		logging.WarnWithContext(logger, "workers did not stop within the shutdown grace period", "shutdown_grace_exceeded",
			logging.Duration("grace", grace),
			logging.String(logging.FieldImpact, "interrupted jobs are recovered once their heartbeats expire"),
		)
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, logs.CurrentName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	attrs := []logging.Attr{logging.String(logging.FieldEventType, "dependency_snapshot")}
	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		key := strings.ToLower(status.Name)
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Available),
			logging.String(key+"_binary", status.Command),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
