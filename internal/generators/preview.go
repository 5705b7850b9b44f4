package generators

import (
	"context"
	"encoding/json"

	"mediaforge/internal/media/ffmpeg"
	"mediaforge/internal/services"
	"mediaforge/internal/stage"
)

const defaultPreviewStartPercent = 10

type previewPayload struct {
	Seconds      *int `json:"seconds"`
	Width        *int `json:"width"`
	StartPercent *int `json:"start_percent"`
}

type previewHandler struct {
	*base
}

func (h *previewHandler) Validate(raw json.RawMessage) error {
	_, err := h.decode(raw)
	return err
}

func (h *previewHandler) decode(raw json.RawMessage) (previewPayload, error) {
	payload, err := stage.DecodePayload[previewPayload](raw)
	if err != nil {
		return payload, err
	}
	if payload.Seconds != nil && (*payload.Seconds < 1 || *payload.Seconds > 120) {
		return payload, services.Wrap(services.ErrValidation, "preview", "validate", "seconds must be between 1 and 120", nil)
	}
	if payload.Width != nil && (*payload.Width < 16 || *payload.Width > 3840) {
		return payload, services.Wrap(services.ErrValidation, "preview", "validate", "width must be between 16 and 3840", nil)
	}
	if payload.StartPercent != nil && (*payload.StartPercent < 0 || *payload.StartPercent > 99) {
		return payload, services.Wrap(services.ErrValidation, "preview", "validate", "start_percent must be between 0 and 99", nil)
	}
	return payload, nil
}

func (h *previewHandler) Execute(ctx context.Context, in stage.Input, progress stage.Reporter) (stage.Output, error) {
	payload, err := h.decode(in.Job.Payload)
	if err != nil {
		return stage.Output{}, err
	}
	if err := progress.Progress(ctx, 0, 1); err != nil {
		return stage.Output{}, err
	}
	duration, _, err := h.duration(ctx, in.Source)
	if err != nil {
		return stage.Output{}, err
	}
	width := orDefault(payload.Width, h.cfg.Artifacts.PreviewWidth)
	length := float64(orDefault(payload.Seconds, h.cfg.Artifacts.PreviewSeconds))
	start := percentOf(duration, orDefault(payload.StartPercent, defaultPreviewStartPercent))
	if duration > 0 {
		if start+length > duration {
			start = max(0, duration-length)
		}
		length = min(length, duration)
	}

	dst := h.artifactPath(TypePreview, in, ".mp4")
	req := ffmpeg.Request{
		Source: in.Source,
		Kind:   ffmpeg.KindPreview,
		Params: ffmpeg.Params{Width: width, OffsetSeconds: start, DurationSeconds: length},
	}
	if err := h.renderFile(ctx, req, dst); err != nil {
		return stage.Output{}, err
	}
	if err := progress.Progress(ctx, 1, 1); err != nil {
		return stage.Output{}, err
	}
	return stage.Output{
		Path:    dst,
		Payload: stage.EncodeJSON(describe(in, map[string]any{"width": width, "start_seconds": start, "seconds": length})),
		Result:  stage.EncodeJSON(map[string]any{"path": dst}),
	}, nil
}

func (h *previewHandler) HealthCheck(context.Context) stage.Health {
	return h.toolHealth(TypePreview)
}
