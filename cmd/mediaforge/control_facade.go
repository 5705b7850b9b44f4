package main

import (
	"context"
	"errors"
	"time"

	"mediaforge/internal/api"
	"mediaforge/internal/artifacts"
	"mediaforge/internal/catalog"
	"mediaforge/internal/config"
	"mediaforge/internal/generators"
	"mediaforge/internal/ipc"
	"mediaforge/internal/logging"
	"mediaforge/internal/queue"
	"mediaforge/internal/sqlitex"
)

// controlAPI is what job and media commands need. The daemon serves it over
// IPC; without a daemon the commands drive the database directly.
type controlAPI interface {
	Enqueue(ctx context.Context, req api.EnqueueRequest) (api.EnqueueResponse, error)
	Cancel(ctx context.Context, id string) (api.Job, error)
	GetJob(ctx context.Context, id string) (api.Job, error)
	ListJobs(ctx context.Context, req ipc.ListRequest) ([]api.Job, error)
	ListPending(ctx context.Context) ([]api.Job, error)
	ListRunning(ctx context.Context) ([]api.Job, error)
	RetryFailed(ctx context.Context, ids []string) (int64, error)
	PurgeFinished(ctx context.Context, before time.Time) (int64, error)
	QueueHealth(ctx context.Context) (api.QueueHealth, error)
	DatabaseHealth(ctx context.Context) (api.DatabaseHealth, error)
	RegisterMedia(ctx context.Context, req api.RegisterMediaRequest) (api.RegisterMediaResponse, error)
	GetMedia(ctx context.Context, id int64) (api.Media, error)
	LinkLabels(ctx context.Context, mediaID int64, kind string, names []string) (api.Media, error)
	ArtifactsForMedia(ctx context.Context, mediaID int64) (api.ArtifactListResponse, error)
}

// withControl runs fn against the daemon when it answers and against the
// local database otherwise. offline reports which one was used.
func (c *commandContext) withControl(ctx context.Context, fn func(ctl controlAPI, offline bool) error) error {
	if client, err := ipc.Dial(c.socketPath()); err == nil {
		defer client.Close()
		return fn(&ipcControl{client: client}, false)
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	local, closeFn, err := openLocalControl(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(localControl{Control: local}, true)
}

func openLocalControl(ctx context.Context, cfg *config.Config) (*api.Control, func(), error) {
	if cfg == nil {
		return nil, nil, errors.New("configuration not available")
	}
	db, err := sqlitex.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewNop()
	store := queue.NewStore(db)
	ledger := artifacts.NewLedger(db)
	cat := catalog.New(db, ledger)
	// Offline the registry only validates; nothing is rendered here.
	registry := generators.Default(cfg, nil, nil, cat, logger)
	control := api.NewControl(cfg, store, ledger, cat, registry, nil, logger)
	return control, func() { _ = db.Close() }, nil
}

// --- IPC adapter ---

type ipcControl struct {
	client *ipc.Client
}

func (a *ipcControl) Enqueue(ctx context.Context, req api.EnqueueRequest) (api.EnqueueResponse, error) {
	resp, err := a.client.Enqueue(ctx, req)
	if err != nil {
		return api.EnqueueResponse{}, err
	}
	return *resp, nil
}

func (a *ipcControl) Cancel(ctx context.Context, id string) (api.Job, error) {
	job, err := a.client.Cancel(ctx, id)
	if err != nil {
		return api.Job{}, err
	}
	return *job, nil
}

func (a *ipcControl) GetJob(ctx context.Context, id string) (api.Job, error) {
	job, err := a.client.Get(ctx, id)
	if err != nil {
		return api.Job{}, err
	}
	return *job, nil
}

func (a *ipcControl) ListJobs(ctx context.Context, req ipc.ListRequest) ([]api.Job, error) {
	return a.client.List(ctx, req)
}

func (a *ipcControl) ListPending(ctx context.Context) ([]api.Job, error) {
	return a.client.Pending(ctx)
}

func (a *ipcControl) ListRunning(ctx context.Context) ([]api.Job, error) {
	return a.client.Running(ctx)
}

func (a *ipcControl) RetryFailed(ctx context.Context, ids []string) (int64, error) {
	return a.client.Retry(ctx, ids)
}

func (a *ipcControl) PurgeFinished(ctx context.Context, before time.Time) (int64, error) {
	return a.client.Purge(ctx, before)
}

func (a *ipcControl) QueueHealth(ctx context.Context) (api.QueueHealth, error) {
	resp, err := a.client.QueueHealth(ctx)
	if err != nil {
		return api.QueueHealth{}, err
	}
	return *resp, nil
}

func (a *ipcControl) DatabaseHealth(ctx context.Context) (api.DatabaseHealth, error) {
	resp, err := a.client.DatabaseHealth(ctx)
	if err != nil {
		return api.DatabaseHealth{}, err
	}
	return *resp, nil
}

func (a *ipcControl) RegisterMedia(ctx context.Context, req api.RegisterMediaRequest) (api.RegisterMediaResponse, error) {
	resp, err := a.client.RegisterMedia(ctx, req)
	if err != nil {
		return api.RegisterMediaResponse{}, err
	}
	return *resp, nil
}

func (a *ipcControl) GetMedia(ctx context.Context, id int64) (api.Media, error) {
	resp, err := a.client.Media(ctx, id)
	if err != nil {
		return api.Media{}, err
	}
	return *resp, nil
}

func (a *ipcControl) LinkLabels(ctx context.Context, mediaID int64, kind string, names []string) (api.Media, error) {
	resp, err := a.client.LinkLabels(ctx, ipc.LabelRequest{MediaID: mediaID, Kind: kind, Names: names})
	if err != nil {
		return api.Media{}, err
	}
	return *resp, nil
}

func (a *ipcControl) ArtifactsForMedia(ctx context.Context, mediaID int64) (api.ArtifactListResponse, error) {
	resp, err := a.client.Artifacts(ctx, mediaID)
	if err != nil {
		return api.ArtifactListResponse{}, err
	}
	return *resp, nil
}

// --- Local adapter ---

// localControl drives the database directly. Only the calls whose shape
// differs from api.Control are overridden.
type localControl struct {
	*api.Control
}

func (a localControl) ListJobs(ctx context.Context, req ipc.ListRequest) ([]api.Job, error) {
	statuses, err := api.ParseStatuses(req.Statuses...)
	if err != nil {
		return nil, err
	}
	return a.Control.ListJobs(ctx, queue.ListFilter{Statuses: statuses, Type: req.Type, Limit: req.Limit})
}

func (a localControl) PurgeFinished(ctx context.Context, before time.Time) (int64, error) {
	if before.IsZero() {
		before = time.Now()
	}
	return a.Control.PurgeFinished(ctx, before)
}
