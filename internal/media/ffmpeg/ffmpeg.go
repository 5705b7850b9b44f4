package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"mediaforge/internal/logging"
	"mediaforge/internal/services"
)

// Kind selects the filter graph used for a render.
type Kind string

const (
	KindThumbnail Kind = "thumbnail"
	KindPreview   Kind = "preview"
	KindSprite    Kind = "sprite"
	KindCrop      Kind = "crop"
)

// Rect is a pixel region of the source frame.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Params carries the per-kind rendering settings. Unused fields are ignored.
type Params struct {
	Width           int
	OffsetSeconds   float64
	DurationSeconds float64
	Columns         int
	Rows            int
	IntervalSeconds float64
	Crop            Rect
	Size            int
}

// Request describes one ffmpeg invocation.
type Request struct {
	Source string
	Output string
	Kind   Kind
	Params Params
}

// Runner executes ffmpeg.
type Runner struct {
	Binary  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewRunner builds a runner; an empty binary means "ffmpeg" from PATH.
func NewRunner(binary string, timeout time.Duration, logger *slog.Logger) *Runner {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &Runner{Binary: binary, Timeout: timeout, Logger: logging.NewComponentLogger(logger, "ffmpeg")}
}

// Render runs ffmpeg for req and waits for it to exit.
func (r *Runner) Render(ctx context.Context, req Request) error {
	args, err := BuildArgs(req)
	if err != nil {
		return err
	}
	if _, err := os.Stat(req.Source); err != nil {
		return services.Wrap(services.ErrNotFound, "ffmpeg", "render", fmt.Sprintf("source %q unavailable", req.Source), err)
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	started := time.Now()
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second
	runErr := cmd.Run()
	if r.Logger != nil {
		r.Logger.Debug("ffmpeg finished",
			logging.String("kind", string(req.Kind)),
			logging.String("output", req.Output),
			logging.Duration("elapsed", time.Since(started)),
			logging.Bool("ok", runErr == nil),
		)
	}
	if runErr != nil {
		return classifyRunError(ctx, r.Binary, runErr, stderr.String())
	}
	return nil
}

func classifyRunError(ctx context.Context, binary string, err error, stderr string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "ffmpeg", "render", "ffmpeg timed out", ctxErr)
		}
		return ctxErr
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return services.Wrap(services.ErrConfiguration, "ffmpeg", "render", fmt.Sprintf("binary %q not found", binary), err)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() < 0 {
			// Killed by a signal (OOM killer, operator); worth another attempt.
			return services.Wrap(services.ErrTransient, "ffmpeg", "render", "ffmpeg was terminated", err)
		}
		return services.Wrap(services.ErrExternalTool, "ffmpeg", "render", lastLine(stderr), err)
	}
	return services.Wrap(services.ErrTransient, "ffmpeg", "render", "", err)
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// BuildArgs returns the ffmpeg argument list for req.
func BuildArgs(req Request) ([]string, error) {
	if strings.TrimSpace(req.Source) == "" || strings.TrimSpace(req.Output) == "" {
		return nil, services.Wrap(services.ErrValidation, "ffmpeg", "build args", "source and output are required", nil)
	}
	p := req.Params
	args := []string{"-y", "-hide_banner", "-nostdin", "-loglevel", "error"}
	switch req.Kind {
	case KindThumbnail:
		if p.Width <= 0 {
			return nil, invalidParam("thumbnail width must be positive")
		}
		args = append(args, "-ss", seconds(p.OffsetSeconds), "-i", req.Source,
			"-frames:v", "1", "-vf", fmt.Sprintf("scale=%d:-2", p.Width), "-q:v", "3")
	case KindPreview:
		if p.Width <= 0 || p.DurationSeconds <= 0 {
			return nil, invalidParam("preview width and duration must be positive")
		}
		args = append(args, "-ss", seconds(p.OffsetSeconds), "-t", seconds(p.DurationSeconds), "-i", req.Source,
			"-vf", fmt.Sprintf("scale=%d:-2", p.Width), "-an",
			"-c:v", "libx264", "-preset", "veryfast", "-crf", "28", "-pix_fmt", "yuv420p",
			"-movflags", "+faststart")
	case KindSprite:
		if p.Columns <= 0 || p.Rows <= 0 || p.Width <= 0 || p.IntervalSeconds <= 0 {
			return nil, invalidParam("sprite grid, tile width, and interval must be positive")
		}
		filter := fmt.Sprintf("fps=1/%s,scale=%d:-2,tile=%dx%d", seconds(p.IntervalSeconds), p.Width, p.Columns, p.Rows)
		args = append(args, "-i", req.Source, "-vf", filter, "-frames:v", "1", "-q:v", "4")
	case KindCrop:
		c := p.Crop
		if c.W <= 0 || c.H <= 0 || c.X < 0 || c.Y < 0 || p.Size <= 0 {
			return nil, invalidParam("crop box and size must be positive")
		}
		filter := fmt.Sprintf("crop=%d:%d:%d:%d,scale=%d:%d:force_original_aspect_ratio=decrease", c.W, c.H, c.X, c.Y, p.Size, p.Size)
		args = append(args, "-ss", seconds(p.OffsetSeconds), "-i", req.Source, "-frames:v", "1", "-vf", filter, "-q:v", "3")
	default:
		return nil, services.Wrap(services.ErrUnsupported, "ffmpeg", "build args", fmt.Sprintf("unknown render kind %q", req.Kind), nil)
	}
	return append(args, req.Output), nil
}

func invalidParam(message string) error {
	return services.Wrap(services.ErrValidation, "ffmpeg", "build args", message, nil)
}

func seconds(value float64) string {
	if value < 0 {
		value = 0
	}
	return strconv.FormatFloat(value, 'f', 3, 64)
}
