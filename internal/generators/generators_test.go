package generators_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"mediaforge/internal/catalog"
	"mediaforge/internal/config"
	"mediaforge/internal/generators"
	"mediaforge/internal/logging"
	"mediaforge/internal/media/ffmpeg"
	"mediaforge/internal/media/ffprobe"
	"mediaforge/internal/queue"
	"mediaforge/internal/services"
	"mediaforge/internal/stage"
	"mediaforge/internal/testsupport"
)

type fakeRenderer struct {
	mu       sync.Mutex
	requests []ffmpeg.Request
	failAt   int
}

func (r *fakeRenderer) Render(_ context.Context, req ffmpeg.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if r.failAt > 0 && len(r.requests) == r.failAt {
		return services.Wrap(services.ErrTransient, "test", "render", "flaky", nil)
	}
	return os.WriteFile(req.Output, []byte("rendered"), 0o644)
}

func (r *fakeRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func fakeProber(duration string) generators.Prober {
	return generators.ProberFunc(func(context.Context, string) (ffprobe.Result, error) {
		return ffprobe.Result{
			Streams: []ffprobe.Stream{{CodecType: "video", Width: 1920, Height: 1080}},
			Format:  ffprobe.Format{Duration: duration, FormatName: "mov,mp4", BitRate: "5000000"},
		}, nil
	})
}

type recordingUpdater struct {
	id   int64
	tech catalog.Technical
}

func (u *recordingUpdater) SetTechnical(_ context.Context, id int64, tech catalog.Technical) error {
	u.id, u.tech = id, tech
	return nil
}

func newRegistry(t *testing.T, renderer generators.Renderer, updater generators.MediaUpdater) (*generators.Registry, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return generators.Default(cfg, renderer, fakeProber("100.0"), updater, logging.NewNop()), cfg
}

func input(jobType string, mediaID int64, payload string) stage.Input {
	return stage.Input{
		Job:        &queue.Job{ID: "job-1", Type: jobType, MediaID: mediaID, Payload: json.RawMessage(payload)},
		MediaID:    mediaID,
		Source:     "/media/clip.mp4",
		Tags:       []string{"Beach"},
		Performers: []string{"Ana"},
	}
}

func TestValidateRejectsBadRequests(t *testing.T) {
	registry, _ := newRegistry(t, &fakeRenderer{}, nil)
	cases := []struct {
		name    string
		jobType string
		mediaID int64
		target  string
		payload string
	}{
		{"unknown type", "gif", 1, "", `{}`},
		{"no target", "thumbnail", 0, "", `{}`},
		{"payload not object", "thumbnail", 1, "", `[1]`},
		{"unknown field", "thumbnail", 1, "", `{"colour":"red"}`},
		{"width out of range", "thumbnail", 1, "", `{"width":2}`},
		{"face-crop without boxes", "face-crop", 1, "", `{}`},
		{"face-crop bad box", "face-crop", 1, "", `{"boxes":[{"x":0,"y":0,"w":0,"h":10}]}`},
		{"rescan needs media", "rescan", 0, "/a.mp4", `{}`},
	}
	for _, tc := range cases {
		_, err := registry.Validate(tc.jobType, tc.mediaID, tc.target, json.RawMessage(tc.payload))
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}

	spec, err := registry.Validate("face-crop", 1, "", json.RawMessage(`{"boxes":[{"x":1,"y":2,"w":30,"h":40,"at_seconds":3}]}`))
	if err != nil {
		t.Fatalf("valid face-crop rejected: %v", err)
	}
	if !spec.Resumable || !spec.Artifact {
		t.Fatalf("face-crop must be a resumable artifact job, got %+v", spec)
	}
	if _, err := registry.Validate("thumbnail", 0, "/videos/a.mp4", nil); err != nil {
		t.Fatalf("path target rejected: %v", err)
	}
	if got := strings.Join(registry.Types(), ","); got != "face-crop,preview,rescan,sprite,thumbnail" {
		t.Fatalf("unexpected types %s", got)
	}
}

func TestThumbnailRendersToStablePath(t *testing.T) {
	renderer := &fakeRenderer{}
	registry, cfg := newRegistry(t, renderer, nil)
	spec, _ := registry.Lookup("thumbnail")

	out, err := spec.Handler.Execute(context.Background(), input("thumbnail", 42, `{"width":200}`), stage.NopReporter)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := filepath.Join(cfg.Paths.ArtifactDir, "thumbnail", "42.jpg")
	if out.Path != want {
		t.Fatalf("expected %s, got %s", want, out.Path)
	}
	if data, err := os.ReadFile(want); err != nil || string(data) != "rendered" {
		t.Fatalf("artifact not committed: %q %v", data, err)
	}
	req := renderer.requests[0]
	if req.Params.Width != 200 || req.Params.OffsetSeconds != 20 {
		t.Fatalf("unexpected render params %+v", req.Params)
	}
	var payload map[string]any
	if err := json.Unmarshal(out.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["tags"] == nil || payload["performers"] == nil {
		t.Fatalf("payload must carry tags and performers: %v", payload)
	}
}

func TestPathTargetsUseToken(t *testing.T) {
	registry, cfg := newRegistry(t, &fakeRenderer{}, nil)
	spec, _ := registry.Lookup("preview")
	in := input("preview", 0, `{}`)
	out, err := spec.Handler.Execute(context.Background(), in, stage.NopReporter)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	dir := filepath.Join(cfg.Paths.ArtifactDir, "preview")
	if filepath.Dir(out.Path) != dir || !strings.HasPrefix(filepath.Base(out.Path), "clip-") || filepath.Ext(out.Path) != ".mp4" {
		t.Fatalf("unexpected path %s", out.Path)
	}
}

func TestSpriteGeometry(t *testing.T) {
	renderer := &fakeRenderer{}
	registry, _ := newRegistry(t, renderer, nil)
	spec, _ := registry.Lookup("sprite")

	out, err := spec.Handler.Execute(context.Background(), input("sprite", 1, `{"columns":4,"rows":5,"tile_width":160}`), stage.NopReporter)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var payload struct {
		Geometry generators.SpriteGeometry `json:"geometry"`
	}
	if err := json.Unmarshal(out.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	g := payload.Geometry
	if g.Columns != 4 || g.Rows != 5 || g.TileWidth != 160 || g.TileHeight != 90 || g.IntervalSeconds != 5 {
		t.Fatalf("unexpected geometry %+v", g)
	}
}

func TestFaceCropResumesFromProgress(t *testing.T) {
	renderer := &fakeRenderer{failAt: 3}
	registry, cfg := newRegistry(t, renderer, nil)
	spec, _ := registry.Lookup("face-crop")
	payload := `{"boxes":[{"x":0,"y":0,"w":10,"h":10},{"x":5,"y":5,"w":10,"h":10},{"x":9,"y":9,"w":10,"h":10},{"x":1,"y":1,"w":10,"h":10}]}`
	in := input("face-crop", 7, payload)

	var reported int64
	reporter := stage.ReporterFunc(func(_ context.Context, done, _ int64) error {
		reported = done
		return nil
	})
	if _, err := spec.Handler.Execute(context.Background(), in, reporter); services.Classify(err) != services.KindTransient {
		t.Fatalf("expected transient failure on third crop, got %v", err)
	}
	if reported != 2 {
		t.Fatalf("expected two crops reported, got %d", reported)
	}

	// The sweeper keeps progress for resumable jobs; the retry starts at crop 3.
	in.Job.Progress = reported
	renderer.failAt = 0
	out, err := spec.Handler.Execute(context.Background(), in, reporter)
	if err != nil {
		t.Fatalf("resumed Execute: %v", err)
	}
	if renderer.count() != 5 {
		t.Fatalf("expected 3 renders before and 2 after resume, got %d", renderer.count())
	}
	dst := filepath.Join(cfg.Paths.ArtifactDir, "face-crop", "7")
	if out.Path != dst {
		t.Fatalf("unexpected path %s", out.Path)
	}
	entries, err := os.ReadDir(dst)
	if err != nil || len(entries) != 4 {
		t.Fatalf("expected 4 crops, got %d %v", len(entries), err)
	}
	if _, err := os.Stat(dst + ".partial"); !os.IsNotExist(err) {
		t.Fatalf("work directory must be consumed, got %v", err)
	}
}

func TestReporterErrorStopsRoutine(t *testing.T) {
	renderer := &fakeRenderer{}
	registry, _ := newRegistry(t, renderer, nil)
	spec, _ := registry.Lookup("thumbnail")
	stop := services.Wrap(services.ErrCancelled, "test", "progress", "cancel requested", nil)
	reporter := stage.ReporterFunc(func(context.Context, int64, int64) error { return stop })

	_, err := spec.Handler.Execute(context.Background(), input("thumbnail", 1, `{}`), reporter)
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if renderer.count() != 0 {
		t.Fatal("nothing should render after cancellation")
	}
}

func TestRescanUpdatesCatalog(t *testing.T) {
	updater := &recordingUpdater{}
	registry, _ := newRegistry(t, &fakeRenderer{}, updater)
	spec, _ := registry.Lookup("rescan")
	if spec.Artifact {
		t.Fatal("rescan produces no artifact")
	}

	out, err := spec.Handler.Execute(context.Background(), input("rescan", 9, `{}`), stage.NopReporter)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if updater.id != 9 || updater.tech.Width != 1920 || updater.tech.DurationSeconds != 100 || updater.tech.Bitrate != 5000000 {
		t.Fatalf("unexpected update %+v", updater)
	}
	if out.Path != "" || len(out.Result) == 0 {
		t.Fatalf("unexpected output %+v", out)
	}
}

func TestHealthReportsMissingTools(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	registry := generators.Default(cfg, &fakeRenderer{}, fakeProber("1"), nil, nil)
	for _, health := range registry.HealthCheck(context.Background()) {
		if !health.Ready {
			t.Fatalf("expected %s ready with stubbed tools: %s", health.Name, health.Detail)
		}
	}

	cfg.Tools.FFmpegBinary = "definitely-missing-ffmpeg"
	for _, health := range registry.HealthCheck(context.Background()) {
		if health.Ready {
			t.Fatalf("expected %s unhealthy without ffmpeg", health.Name)
		}
	}
}
