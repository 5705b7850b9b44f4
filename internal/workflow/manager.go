package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mediaforge/internal/artifacts"
	"mediaforge/internal/catalog"
	"mediaforge/internal/config"
	"mediaforge/internal/generators"
	"mediaforge/internal/logging"
	"mediaforge/internal/notifications"
	"mediaforge/internal/queue"
)

// MediaSource is the read side of the catalog the workers need.
type MediaSource interface {
	Get(ctx context.Context, id int64) (*catalog.Media, error)
	TagsFor(ctx context.Context, mediaID int64) ([]catalog.Label, error)
	PerformersFor(ctx context.Context, mediaID int64) ([]catalog.Label, error)
}

// Manager coordinates dispatch, execution, and recovery of queued jobs.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	ledger   *artifacts.Ledger
	media    MediaSource
	registry *generators.Registry
	notifier notifications.Service
	base     *slog.Logger
	logger   *slog.Logger

	pollInterval time.Duration
	heartbeat    *HeartbeatMonitor
	sweeper      *Sweeper

	wake  chan struct{}
	fatal chan error

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	lastJob  *queue.Job
	fatalErr error
	busy     int
}

// NewManager constructs a new workflow manager that notifies through the
// configured ntfy topic.
func NewManager(cfg *config.Config, store *queue.Store, ledger *artifacts.Ledger, media MediaSource, registry *generators.Registry, logger *slog.Logger) *Manager {
	return NewManagerWithNotifier(cfg, store, ledger, media, registry, logger, notifications.NewService(cfg))
}

// NewManagerWithNotifier constructs a workflow manager with a custom notifier (used in tests).
func NewManagerWithNotifier(cfg *config.Config, store *queue.Store, ledger *artifacts.Ledger, media MediaSource, registry *generators.Registry, logger *slog.Logger, notifier notifications.Service) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:          cfg,
		store:        store,
		ledger:       ledger,
		media:        media,
		registry:     registry,
		notifier:     notifier,
		base:         logger,
		logger:       logging.NewComponentLogger(logger, "workflow-manager"),
		pollInterval: cfg.DispatchPollInterval(),
		heartbeat:    NewHeartbeatMonitor(store, logger, cfg.HeartbeatInterval()),
		wake:         make(chan struct{}, 1),
		fatal:        make(chan error, 1),
	}
	m.sweeper = NewSweeper(store, ledger, registry, logger, cfg.HeartbeatTimeout(), cfg.Engine.RetryLimit)
	m.sweeper.notifier = notifier
	return m
}

// Wake nudges the dispatcher to look for work before its next poll.
func (m *Manager) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Fatal delivers the store failure that stopped the engine. At most one
// error is ever sent.
func (m *Manager) Fatal() <-chan error {
	return m.fatal
}
