package generators

import (
	"context"
	"encoding/json"
	"math"

	"mediaforge/internal/catalog"
	"mediaforge/internal/services"
	"mediaforge/internal/stage"
)

type rescanPayload struct{}

type rescanHandler struct {
	*base
	updater MediaUpdater
}

func (h *rescanHandler) Validate(raw json.RawMessage) error {
	_, err := stage.DecodePayload[rescanPayload](raw)
	return err
}

func (h *rescanHandler) Execute(ctx context.Context, in stage.Input, progress stage.Reporter) (stage.Output, error) {
	if in.MediaID <= 0 {
		return stage.Output{}, services.Wrap(services.ErrValidation, "rescan", "execute", "media no longer exists", nil)
	}
	if err := progress.Progress(ctx, 0, 1); err != nil {
		return stage.Output{}, err
	}
	result, err := h.prober.Inspect(ctx, in.Source)
	if err != nil {
		return stage.Output{}, err
	}
	tech := catalog.Technical{
		DurationSeconds: result.DurationSeconds(),
		Bitrate:         result.BitRate(),
		Format:          result.Format.FormatName,
		Metadata:        result.RawJSON(),
	}
	if math.IsNaN(tech.DurationSeconds) {
		tech.DurationSeconds = 0
	}
	if video, ok := result.PrimaryVideo(); ok {
		tech.Width, tech.Height = video.Width, video.Height
	}
	if h.updater != nil {
		if err := h.updater.SetTechnical(ctx, in.MediaID, tech); err != nil {
			return stage.Output{}, err
		}
	}
	if err := progress.Progress(ctx, 1, 1); err != nil {
		return stage.Output{}, err
	}
	return stage.Output{
		Result: stage.EncodeJSON(map[string]any{
			"duration_seconds": tech.DurationSeconds,
			"width":            tech.Width,
			"height":           tech.Height,
			"format":           tech.Format,
		}),
	}, nil
}

func (h *rescanHandler) HealthCheck(context.Context) stage.Health {
	return h.toolHealth(TypeRescan)
}
