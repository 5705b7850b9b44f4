package generators

import (
	"context"
	"encoding/json"

	"mediaforge/internal/media/ffmpeg"
	"mediaforge/internal/services"
	"mediaforge/internal/stage"
)

type thumbnailPayload struct {
	Width         *int `json:"width"`
	OffsetPercent *int `json:"offset_percent"`
}

type thumbnailHandler struct {
	*base
}

func (h *thumbnailHandler) Validate(raw json.RawMessage) error {
	_, err := h.decode(raw)
	return err
}

func (h *thumbnailHandler) decode(raw json.RawMessage) (thumbnailPayload, error) {
	payload, err := stage.DecodePayload[thumbnailPayload](raw)
	if err != nil {
		return payload, err
	}
	if payload.Width != nil && (*payload.Width < 16 || *payload.Width > 4096) {
		return payload, services.Wrap(services.ErrValidation, "thumbnail", "validate", "width must be between 16 and 4096", nil)
	}
	if payload.OffsetPercent != nil && (*payload.OffsetPercent < 0 || *payload.OffsetPercent > 99) {
		return payload, services.Wrap(services.ErrValidation, "thumbnail", "validate", "offset_percent must be between 0 and 99", nil)
	}
	return payload, nil
}

func (h *thumbnailHandler) Execute(ctx context.Context, in stage.Input, progress stage.Reporter) (stage.Output, error) {
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
	width := orDefault(payload.Width, h.cfg.Artifacts.ThumbnailWidth)
	offset := percentOf(duration, orDefault(payload.OffsetPercent, h.cfg.Artifacts.ThumbnailOffsetPercent))

	dst := h.artifactPath(TypeThumbnail, in, ".jpg")
	req := ffmpeg.Request{Source: in.Source, Kind: ffmpeg.KindThumbnail, Params: ffmpeg.Params{Width: width, OffsetSeconds: offset}}
	if err := h.renderFile(ctx, req, dst); err != nil {
		return stage.Output{}, err
	}
	if err := progress.Progress(ctx, 1, 1); err != nil {
		return stage.Output{}, err
	}
	return stage.Output{
		Path:    dst,
		Payload: stage.EncodeJSON(describe(in, map[string]any{"width": width, "offset_seconds": offset})),
		Result:  stage.EncodeJSON(map[string]any{"path": dst}),
	}, nil
}

func (h *thumbnailHandler) HealthCheck(context.Context) stage.Health {
	return h.toolHealth(TypeThumbnail)
}
