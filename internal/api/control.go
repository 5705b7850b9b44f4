package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediaforge/internal/artifacts"
	"mediaforge/internal/catalog"
	"mediaforge/internal/config"
	"mediaforge/internal/generators"
	"mediaforge/internal/logging"
	"mediaforge/internal/queue"
	"mediaforge/internal/services"
)

// Waker is told about new work so dispatch does not wait for its next poll.
type Waker interface {
	Wake()
}

// Label kinds accepted by LinkLabels.
const (
	LabelTag       = "tag"
	LabelPerformer = "performer"
)

// Control is the control surface over the job store, the artifact ledger,
// and the catalog. The daemon serves it over HTTP and IPC; the CLI uses it
// directly when no daemon is running.
type Control struct {
	cfg      *config.Config
	store    *queue.Store
	ledger   *artifacts.Ledger
	catalog  *catalog.Catalog
	registry *generators.Registry
	queue    *QueueService
	waker    Waker
	logger   *slog.Logger
}

// NewControl wires the control surface. waker may be nil.
func NewControl(cfg *config.Config, store *queue.Store, ledger *artifacts.Ledger, cat *catalog.Catalog, registry *generators.Registry, waker Waker, logger *slog.Logger) *Control {
	return &Control{
		cfg:      cfg,
		store:    store,
		ledger:   ledger,
		catalog:  cat,
		registry: registry,
		queue:    NewQueueService(store, cfg.HeartbeatTimeout()),
		waker:    waker,
		logger:   logging.NewComponentLogger(logger, "control"),
	}
}

// Enqueue validates a request and stores it, coalescing with an active job
// for the same target and type. Nothing is stored when validation fails.
func (c *Control) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResponse, error) {
	spec, err := c.registry.Validate(req.Type, req.MediaID, req.TargetPath, req.Payload)
	if err != nil {
		return EnqueueResponse{}, err
	}
	target := strings.TrimSpace(req.TargetPath)
	if target != "" && !filepath.IsAbs(target) {
		if target, err = catalog.NormalizePath(target); err != nil {
			return EnqueueResponse{}, err
		}
	}

	res, err := c.store.Enqueue(ctx, queue.NewJob{
		Type:       spec.Type,
		MediaID:    req.MediaID,
		TargetPath: target,
		Priority:   req.Priority,
		Payload:    req.Payload,
		Resumable:  spec.Resumable,
	})
	if errors.Is(err, queue.ErrUnknownMedia) {
		return EnqueueResponse{}, services.Wrap(services.ErrValidation, "control", "enqueue",
			fmt.Sprintf("media %d does not exist", req.MediaID), err)
	}
	if err != nil {
		return EnqueueResponse{}, err
	}
	if c.waker != nil {
		c.waker.Wake()
	}
	c.logger.Info("job enqueued",
		logging.String(logging.FieldJobID, res.Job.ID),
		logging.String(logging.FieldJobType, res.Job.Type),
		logging.Int("priority", res.Job.Priority),
		logging.Bool("coalesced", res.Coalesced),
		logging.String(logging.FieldEventType, "job_enqueued"),
	)
	return EnqueueResponse{Job: FromJob(res.Job), Coalesced: res.Coalesced}, nil
}

// Cancel cancels a pending job at once or flags a running one.
func (c *Control) Cancel(ctx context.Context, id string) (Job, error) {
	job, err := c.store.Cancel(ctx, strings.TrimSpace(id))
	if err != nil {
		return Job{}, err
	}
	c.logger.Info("job cancellation requested",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("status", string(job.Status)),
		logging.String(logging.FieldEventType, "job_cancel_requested"),
	)
	return FromJob(job), nil
}

// GetJob returns one job or queue.ErrJobNotFound.
func (c *Control) GetJob(ctx context.Context, id string) (Job, error) {
	job, err := c.queue.Describe(ctx, strings.TrimSpace(id))
	if err != nil {
		return Job{}, err
	}
	if job == nil {
		return Job{}, fmt.Errorf("%w: %s", queue.ErrJobNotFound, id)
	}
	return *job, nil
}

// ListPending lists jobs waiting for dispatch in creation order.
func (c *Control) ListPending(ctx context.Context) ([]Job, error) {
	return c.queue.Pending(ctx)
}

// ListRunning lists jobs currently held by a worker.
func (c *Control) ListRunning(ctx context.Context) ([]Job, error) {
	return c.queue.Running(ctx)
}

// ListJobs lists jobs matching filter.
func (c *Control) ListJobs(ctx context.Context, filter queue.ListFilter) ([]Job, error) {
	return c.queue.List(ctx, filter)
}

// RetryFailed moves failed jobs back to pending. No ids means every failed job.
func (c *Control) RetryFailed(ctx context.Context, ids []string) (int64, error) {
	n, err := c.store.RetryFailed(ctx, ids...)
	if err != nil {
		return 0, err
	}
	if n > 0 && c.waker != nil {
		c.waker.Wake()
	}
	return n, nil
}

// PurgeFinished deletes terminal jobs finished before the cutoff.
func (c *Control) PurgeFinished(ctx context.Context, before time.Time) (int64, error) {
	return c.store.PurgeFinished(ctx, before)
}

// QueueHealth reports queue liveness.
func (c *Control) QueueHealth(ctx context.Context) (QueueHealth, error) {
	return c.queue.Health(ctx)
}

// DatabaseHealth reports schema and integrity checks.
func (c *Control) DatabaseHealth(ctx context.Context) (DatabaseHealth, error) {
	return c.queue.DatabaseHealth(ctx)
}

// RegisterMedia records a file the way a catalog scan would. When the
// request omits the modification time the file is read from the media root.
func (c *Control) RegisterMedia(ctx context.Context, req RegisterMediaRequest) (RegisterMediaResponse, error) {
	rel, err := catalog.NormalizePath(req.Path)
	if err != nil {
		return RegisterMediaResponse{}, err
	}
	in := catalog.ScanInput{Path: rel, Size: req.Size}
	if in.ModTime, err = ParseTime(req.ModTime); err != nil {
		return RegisterMediaResponse{}, err
	}
	if in.ModTime.IsZero() {
		info, err := os.Stat(c.cfg.ResolveMediaPath(rel))
		if err != nil {
			return RegisterMediaResponse{}, services.Wrap(services.ErrNotFound, "control", "register media",
				fmt.Sprintf("stat %s", rel), err)
		}
		if info.IsDir() {
			return RegisterMediaResponse{}, services.Wrap(services.ErrValidation, "control", "register media",
				fmt.Sprintf("%s is a directory", rel), nil)
		}
		in.ModTime, in.Size = info.ModTime(), info.Size()
	}

	media, outcome, err := c.catalog.UpsertScanned(ctx, in)
	if err != nil {
		return RegisterMediaResponse{}, err
	}
	c.logger.Info("media registered",
		logging.Int64(logging.FieldMediaID, media.ID),
		logging.String("path", media.Path),
		logging.String("outcome", string(outcome)),
		logging.String(logging.FieldEventType, "media_registered"),
	)
	dto, err := c.describeMedia(ctx, media)
	if err != nil {
		return RegisterMediaResponse{}, err
	}
	return RegisterMediaResponse{Media: dto, Outcome: string(outcome)}, nil
}

// GetMedia returns a media row with its label names.
func (c *Control) GetMedia(ctx context.Context, id int64) (Media, error) {
	media, err := c.mustMedia(ctx, id)
	if err != nil {
		return Media{}, err
	}
	return c.describeMedia(ctx, media)
}

// LinkLabels attaches tags or performers to a media row.
func (c *Control) LinkLabels(ctx context.Context, mediaID int64, kind string, names []string) (Media, error) {
	media, err := c.mustMedia(ctx, mediaID)
	if err != nil {
		return Media{}, err
	}
	link := c.catalog.LinkTag
	switch kind {
	case LabelTag:
	case LabelPerformer:
		link = c.catalog.LinkPerformer
	default:
		return Media{}, services.Wrap(services.ErrValidation, "control", "link labels",
			fmt.Sprintf("unknown label kind %q", kind), nil)
	}
	for _, name := range names {
		if _, err := link(ctx, mediaID, name); err != nil {
			return Media{}, err
		}
	}
	return c.describeMedia(ctx, media)
}

// ArtifactsForMedia lists the ledger rows of one media item.
func (c *Control) ArtifactsForMedia(ctx context.Context, mediaID int64) (ArtifactListResponse, error) {
	if _, err := c.mustMedia(ctx, mediaID); err != nil {
		return ArtifactListResponse{}, err
	}
	recs, err := c.ledger.ListForMedia(ctx, mediaID)
	if err != nil {
		return ArtifactListResponse{}, err
	}
	return ArtifactListResponse{MediaID: mediaID, Artifacts: FromArtifacts(recs)}, nil
}

func (c *Control) mustMedia(ctx context.Context, id int64) (*catalog.Media, error) {
	media, err := c.catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if media == nil {
		return nil, services.Wrap(services.ErrNotFound, "control", "media", fmt.Sprintf("media %d does not exist", id), nil)
	}
	return media, nil
}

func (c *Control) describeMedia(ctx context.Context, media *catalog.Media) (Media, error) {
	tags, err := c.catalog.TagsFor(ctx, media.ID)
	if err != nil {
		return Media{}, err
	}
	performers, err := c.catalog.PerformersFor(ctx, media.ID)
	if err != nil {
		return Media{}, err
	}
	return FromMedia(media, catalog.Names(tags), catalog.Names(performers)), nil
}
