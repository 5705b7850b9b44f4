package generators

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"mediaforge/internal/fileutil"
	"mediaforge/internal/logging"
	"mediaforge/internal/media/ffmpeg"
	"mediaforge/internal/services"
	"mediaforge/internal/stage"
)

const maxFaceBoxes = 64

// FaceBox is a region supplied by the external face detector.
type FaceBox struct {
	X         int     `json:"x"`
	Y         int     `json:"y"`
	W         int     `json:"w"`
	H         int     `json:"h"`
	AtSeconds float64 `json:"at_seconds"`
}

type faceCropPayload struct {
	Boxes []FaceBox `json:"boxes"`
	Size  *int      `json:"size"`
}

type faceCrop struct {
	File string  `json:"file"`
	Box  FaceBox `json:"box"`
}

type faceCropHandler struct {
	*base
}

func (h *faceCropHandler) Validate(raw json.RawMessage) error {
	_, err := h.decode(raw)
	return err
}

func (h *faceCropHandler) decode(raw json.RawMessage) (faceCropPayload, error) {
	payload, err := stage.DecodePayload[faceCropPayload](raw)
	if err != nil {
		return payload, err
	}
	if len(payload.Boxes) == 0 {
		return payload, services.Wrap(services.ErrValidation, "face-crop", "validate", "at least one box is required", nil)
	}
	if len(payload.Boxes) > maxFaceBoxes {
		return payload, services.Wrap(services.ErrValidation, "face-crop", "validate",
			fmt.Sprintf("at most %d boxes per job", maxFaceBoxes), nil)
	}
	for i, box := range payload.Boxes {
		if box.W <= 0 || box.H <= 0 || box.X < 0 || box.Y < 0 || box.AtSeconds < 0 {
			return payload, services.Wrap(services.ErrValidation, "face-crop", "validate",
				fmt.Sprintf("box %d must have a non-negative origin, positive size, and non-negative time", i), nil)
		}
	}
	if payload.Size != nil && (*payload.Size < 32 || *payload.Size > 1024) {
		return payload, services.Wrap(services.ErrValidation, "face-crop", "validate", "size must be between 32 and 1024", nil)
	}
	return payload, nil
}

func cropName(index int) string {
	return fmt.Sprintf("crop-%03d.jpg", index)
}

// Execute renders crops into a work directory that survives a requeue. Crops
// below the job's stored progress are reused when their files still exist,
// and the directory replaces the previous artifact only once all are done.
func (h *faceCropHandler) Execute(ctx context.Context, in stage.Input, progress stage.Reporter) (stage.Output, error) {
	payload, err := h.decode(in.Job.Payload)
	if err != nil {
		return stage.Output{}, err
	}
	size := orDefault(payload.Size, h.cfg.Artifacts.FaceCropSize)
	total := int64(len(payload.Boxes))
	dst := h.artifactPath(TypeFaceCrop, in, "")
	work := dst + ".partial"
	if err := os.MkdirAll(work, 0o755); err != nil {
		return stage.Output{}, services.Wrap(services.ErrTransient, "face-crop", "prepare", "create work directory", err)
	}

	start := resumePoint(work, in.Job.Progress, len(payload.Boxes))
	if start > 0 {
		h.logger.Info("resuming face crops",
			logging.String(logging.FieldJobID, in.Job.ID),
			logging.Int64("completed", start),
			logging.Int64("total", total),
		)
	}
	if err := progress.Progress(ctx, start, total); err != nil {
		return stage.Output{}, err
	}

	for i := int(start); i < len(payload.Boxes); i++ {
		box := payload.Boxes[i]
		req := ffmpeg.Request{
			Source: in.Source,
			Kind:   ffmpeg.KindCrop,
			Params: ffmpeg.Params{
				OffsetSeconds: box.AtSeconds,
				Size:          size,
				Crop:          ffmpeg.Rect{X: box.X, Y: box.Y, W: box.W, H: box.H},
			},
		}
		if err := h.renderFile(ctx, req, filepath.Join(work, cropName(i))); err != nil {
			return stage.Output{}, err
		}
		if err := progress.Progress(ctx, int64(i+1), total); err != nil {
			return stage.Output{}, err
		}
	}

	if err := fileutil.CommitDir(work, dst); err != nil {
		return stage.Output{}, services.Wrap(services.ErrTransient, "face-crop", "commit", "replace crop directory", err)
	}
	crops := make([]faceCrop, 0, len(payload.Boxes))
	for i, box := range payload.Boxes {
		crops = append(crops, faceCrop{File: cropName(i), Box: box})
	}
	return stage.Output{
		Path:    dst,
		Payload: stage.EncodeJSON(describe(in, map[string]any{"size": size, "crops": crops})),
		Result:  stage.EncodeJSON(map[string]any{"path": dst, "crops": len(crops)}),
	}, nil
}

// resumePoint returns how many leading crops are already on disk, capped by
// the persisted progress.
func resumePoint(work string, progress int64, total int) int64 {
	limit := min(int(progress), total)
	for i := 0; i < limit; i++ {
		if _, err := os.Stat(filepath.Join(work, cropName(i))); err != nil {
			return int64(i)
		}
	}
	return int64(max(limit, 0))
}

func (h *faceCropHandler) HealthCheck(context.Context) stage.Health {
	return h.toolHealth(TypeFaceCrop)
}
