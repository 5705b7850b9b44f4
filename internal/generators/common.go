package generators

import (
	"context"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"

	"mediaforge/internal/config"
	"mediaforge/internal/deps"
	"mediaforge/internal/fileutil"
	"mediaforge/internal/logging"
	"mediaforge/internal/media/ffmpeg"
	"mediaforge/internal/stage"
	"mediaforge/internal/textutil"
)

// base holds what every routine shares.
type base struct {
	cfg      *config.Config
	renderer Renderer
	prober   Prober
	logger   *slog.Logger
}

func newBase(cfg *config.Config, renderer Renderer, prober Prober, logger *slog.Logger) *base {
	return &base{
		cfg:      cfg,
		renderer: renderer,
		prober:   prober,
		logger:   logging.NewComponentLogger(logger, "generators"),
	}
}

// artifactPath returns the stable location for a job type's output.
func (b *base) artifactPath(jobType string, in stage.Input, ext string) string {
	name := ""
	if in.MediaID > 0 {
		name = strconv.FormatInt(in.MediaID, 10)
	} else {
		name = textutil.PathToken(in.Source)
	}
	return filepath.Join(b.cfg.Paths.ArtifactDir, jobType, name+ext)
}

// duration probes the source length; zero when unknown.
func (b *base) duration(ctx context.Context, source string) (float64, *videoInfo, error) {
	result, err := b.prober.Inspect(ctx, source)
	if err != nil {
		return 0, nil, err
	}
	seconds := result.DurationSeconds()
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	info := &videoInfo{}
	if video, ok := result.PrimaryVideo(); ok {
		info.width, info.height = video.Width, video.Height
	}
	return seconds, info, nil
}

type videoInfo struct {
	width  int
	height int
}

// renderFile renders to a temp sibling of dst and renames it into place.
func (b *base) renderFile(ctx context.Context, req ffmpeg.Request, dst string) error {
	tmp, err := fileutil.TempSibling(dst)
	if err != nil {
		return err
	}
	req.Output = tmp
	if err := b.renderer.Render(ctx, req); err != nil {
		fileutil.Discard(tmp)
		return err
	}
	if err := fileutil.CommitFile(tmp, dst); err != nil {
		fileutil.Discard(tmp)
		return err
	}
	return nil
}

func (b *base) toolHealth(name string) stage.Health {
	if missing := deps.Missing(deps.CheckBinaries(deps.Requirements(b.cfg))); len(missing) > 0 {
		return stage.Unhealthy(name, missing[0].Detail)
	}
	return stage.Healthy(name)
}

// describe builds the ledger payload: routine-specific fields plus the
// media's tag and performer names.
func describe(in stage.Input, fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		out[k] = v
	}
	if len(in.Tags) > 0 {
		out["tags"] = in.Tags
	}
	if len(in.Performers) > 0 {
		out["performers"] = in.Performers
	}
	return out
}

func percentOf(total float64, percent int) float64 {
	if total <= 0 || percent <= 0 {
		return 0
	}
	return total * float64(percent) / 100
}

func orDefault(value *int, fallback int) int {
	if value == nil {
		return fallback
	}
	return *value
}
