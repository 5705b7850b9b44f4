package generators

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"mediaforge/internal/catalog"
	"mediaforge/internal/config"
	"mediaforge/internal/media/ffmpeg"
	"mediaforge/internal/media/ffprobe"
	"mediaforge/internal/services"
	"mediaforge/internal/stage"
)

const (
	TypeThumbnail = "thumbnail"
	TypePreview   = "preview"
	TypeSprite    = "sprite"
	TypeFaceCrop  = "face-crop"
	TypeRescan    = "rescan"
)

// Renderer produces a file with ffmpeg.
type Renderer interface {
	Render(ctx context.Context, req ffmpeg.Request) error
}

// Prober reads technical metadata for a file.
type Prober interface {
	Inspect(ctx context.Context, path string) (ffprobe.Result, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, path string) (ffprobe.Result, error)

// Inspect implements Prober.
func (f ProberFunc) Inspect(ctx context.Context, path string) (ffprobe.Result, error) {
	return f(ctx, path)
}

// MediaUpdater writes probe results back to the catalog.
type MediaUpdater interface {
	SetTechnical(ctx context.Context, id int64, tech catalog.Technical) error
}

// Spec describes one registered job type.
type Spec struct {
	Type string
	// Resumable jobs keep their progress when the sweeper requeues them.
	Resumable bool
	// Artifact is false for job types that produce no ledger row.
	Artifact bool
	// RequiresMedia rejects path-only targets.
	RequiresMedia bool
	Handler       stage.Handler
}

// Registry maps job types to their routines.
type Registry struct {
	specs map[string]Spec
}

// NewRegistry builds a registry from specs; later duplicates win.
func NewRegistry(specs ...Spec) *Registry {
	r := &Registry{specs: make(map[string]Spec, len(specs))}
	for _, spec := range specs {
		r.specs[spec.Type] = spec
	}
	return r
}

// Lookup returns the spec for jobType.
func (r *Registry) Lookup(jobType string) (Spec, bool) {
	spec, ok := r.specs[jobType]
	return spec, ok
}

// Types returns the registered job types in lexical order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.specs))
	for t := range r.specs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Validate checks an enqueue request. It never touches the store.
func (r *Registry) Validate(jobType string, mediaID int64, targetPath string, payload json.RawMessage) (Spec, error) {
	jobType = strings.TrimSpace(jobType)
	spec, ok := r.specs[jobType]
	if !ok {
		return Spec{}, services.Wrap(services.ErrValidation, "generators", "validate",
			fmt.Sprintf("unknown job type %q (known: %s)", jobType, strings.Join(r.Types(), ", ")), nil)
	}
	hasPath := strings.TrimSpace(targetPath) != ""
	if mediaID <= 0 && !hasPath {
		return Spec{}, services.Wrap(services.ErrValidation, "generators", "validate", "a media id or target path is required", nil)
	}
	if mediaID < 0 {
		return Spec{}, services.Wrap(services.ErrValidation, "generators", "validate", "media id must be positive", nil)
	}
	if spec.RequiresMedia && mediaID <= 0 {
		return Spec{}, services.Wrap(services.ErrValidation, "generators", "validate",
			fmt.Sprintf("%s jobs must target a media item", jobType), nil)
	}
	if err := spec.Handler.Validate(payload); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// HealthCheck collects every handler's readiness in type order.
func (r *Registry) HealthCheck(ctx context.Context) []stage.Health {
	out := make([]stage.Health, 0, len(r.specs))
	for _, t := range r.Types() {
		out = append(out, r.specs[t].Handler.HealthCheck(ctx))
	}
	return out
}

// Default wires the five built-in job types.
func Default(cfg *config.Config, renderer Renderer, prober Prober, updater MediaUpdater, logger *slog.Logger) *Registry {
	base := newBase(cfg, renderer, prober, logger)
	return NewRegistry(
		Spec{Type: TypeThumbnail, Artifact: true, Handler: &thumbnailHandler{base: base}},
		Spec{Type: TypePreview, Artifact: true, Handler: &previewHandler{base: base}},
		Spec{Type: TypeSprite, Artifact: true, Handler: &spriteHandler{base: base}},
		Spec{Type: TypeFaceCrop, Artifact: true, Resumable: true, Handler: &faceCropHandler{base: base}},
		Spec{Type: TypeRescan, RequiresMedia: true, Handler: &rescanHandler{base: base, updater: updater}},
	)
}

// NewProber returns a Prober backed by the configured ffprobe binary.
func NewProber(cfg *config.Config) Prober {
	return ProberFunc(func(ctx context.Context, path string) (ffprobe.Result, error) {
		if timeout := cfg.ToolTimeout(); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return ffprobe.Inspect(ctx, cfg.Tools.FFprobeBinary, path)
	})
}
