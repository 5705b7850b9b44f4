package generators

import (
	"context"
	"encoding/json"

	"mediaforge/internal/media/ffmpeg"
	"mediaforge/internal/services"
	"mediaforge/internal/stage"
)

type spritePayload struct {
	Columns   *int `json:"columns"`
	Rows      *int `json:"rows"`
	TileWidth *int `json:"tile_width"`
}

// SpriteGeometry is stored on the ledger so players can map a timestamp to
// a tile.
type SpriteGeometry struct {
	Columns         int     `json:"columns"`
	Rows            int     `json:"rows"`
	TileWidth       int     `json:"tile_width"`
	TileHeight      int     `json:"tile_height"`
	IntervalSeconds float64 `json:"interval_seconds"`
}

type spriteHandler struct {
	*base
}

func (h *spriteHandler) Validate(raw json.RawMessage) error {
	_, err := h.decode(raw)
	return err
}

func (h *spriteHandler) decode(raw json.RawMessage) (spritePayload, error) {
	payload, err := stage.DecodePayload[spritePayload](raw)
	if err != nil {
		return payload, err
	}
	for name, value := range map[string]*int{"columns": payload.Columns, "rows": payload.Rows} {
		if value != nil && (*value < 1 || *value > 20) {
			return payload, services.Wrap(services.ErrValidation, "sprite", "validate", name+" must be between 1 and 20", nil)
		}
	}
	if payload.TileWidth != nil && (*payload.TileWidth < 16 || *payload.TileWidth > 640) {
		return payload, services.Wrap(services.ErrValidation, "sprite", "validate", "tile_width must be between 16 and 640", nil)
	}
	return payload, nil
}

func (h *spriteHandler) Execute(ctx context.Context, in stage.Input, progress stage.Reporter) (stage.Output, error) {
	payload, err := h.decode(in.Job.Payload)
	if err != nil {
		return stage.Output{}, err
	}
	if err := progress.Progress(ctx, 0, 1); err != nil {
		return stage.Output{}, err
	}
	duration, info, err := h.duration(ctx, in.Source)
	if err != nil {
		return stage.Output{}, err
	}
	if duration <= 0 {
		return stage.Output{}, services.Wrap(services.ErrUnsupported, "sprite", "execute", "source duration is unknown", nil)
	}
	geometry := SpriteGeometry{
		Columns:   orDefault(payload.Columns, h.cfg.Artifacts.SpriteColumns),
		Rows:      orDefault(payload.Rows, h.cfg.Artifacts.SpriteRows),
		TileWidth: orDefault(payload.TileWidth, h.cfg.Artifacts.SpriteTileWidth),
	}
	geometry.IntervalSeconds = duration / float64(geometry.Columns*geometry.Rows)
	if info != nil && info.width > 0 && info.height > 0 {
		// Matches ffmpeg's scale=W:-2, which rounds to an even height.
		height := geometry.TileWidth * info.height / info.width
		geometry.TileHeight = height - height%2
	}

	dst := h.artifactPath(TypeSprite, in, ".jpg")
	req := ffmpeg.Request{
		Source: in.Source,
		Kind:   ffmpeg.KindSprite,
		Params: ffmpeg.Params{
			Width:           geometry.TileWidth,
			Columns:         geometry.Columns,
			Rows:            geometry.Rows,
			IntervalSeconds: geometry.IntervalSeconds,
		},
	}
	if err := h.renderFile(ctx, req, dst); err != nil {
		return stage.Output{}, err
	}
	if err := progress.Progress(ctx, 1, 1); err != nil {
		return stage.Output{}, err
	}
	return stage.Output{
		Path:    dst,
		Payload: stage.EncodeJSON(describe(in, map[string]any{"geometry": geometry})),
		Result:  stage.EncodeJSON(map[string]any{"path": dst, "tiles": geometry.Columns * geometry.Rows}),
	}, nil
}

func (h *spriteHandler) HealthCheck(context.Context) stage.Health {
	return h.toolHealth(TypeSprite)
}
