package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mediaforge/internal/artifacts"
	"mediaforge/internal/catalog"
	"mediaforge/internal/config"
	"mediaforge/internal/generators"
	"mediaforge/internal/logging"
	"mediaforge/internal/media/ffmpeg"
	"mediaforge/internal/media/ffprobe"
	"mediaforge/internal/notifications"
	"mediaforge/internal/queue"
	"mediaforge/internal/services"
	"mediaforge/internal/sqlitex"
	"mediaforge/internal/stage"
	"mediaforge/internal/testsupport"
)

// scriptedHandler runs a test-provided routine for every job.
type scriptedHandler struct {
	calls atomic.Int32
	run   func(ctx context.Context, in stage.Input, progress stage.Reporter) (stage.Output, error)
}

func (h *scriptedHandler) Validate(json.RawMessage) error { return nil }

func (h *scriptedHandler) Execute(ctx context.Context, in stage.Input, progress stage.Reporter) (stage.Output, error) {
	h.calls.Add(1)
	return h.run(ctx, in, progress)
}

func (h *scriptedHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("scripted")
}

// recordingNotifier captures published events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	last   map[notifications.Event]notifications.Payload
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	if n.last == nil {
		n.last = make(map[notifications.Event]notifications.Payload)
	}
	n.last[event] = payload
	return nil
}

func (n *recordingNotifier) waitFor(t *testing.T, event notifications.Event) notifications.Payload {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n.mu.Lock()
		payload, ok := n.last[event]
		n.mu.Unlock()
		if ok {
			return payload
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("notification %s not published", event)
	return nil
}

type harness struct {
	cfg      *config.Config
	db       *sqlitex.DB
	store    *queue.Store
	ledger   *artifacts.Ledger
	catalog  *catalog.Catalog
	notifier *recordingNotifier
	manager  *Manager
}

func newHarness(t *testing.T, handler stage.Handler, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	opts = append([]testsupport.ConfigOption{testsupport.WithFastEngine()}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	db := testsupport.MustOpenDB(t, cfg)
	h := &harness{
		cfg:      cfg,
		db:       db,
		store:    testsupport.MustOpenStore(t, db),
		ledger:   testsupport.MustOpenLedger(t, db),
		catalog:  testsupport.MustOpenCatalog(t, db),
		notifier: &recordingNotifier{},
	}
	registry := generators.NewRegistry(
		generators.Spec{Type: generators.TypeThumbnail, Artifact: true, Handler: handler},
		generators.Spec{Type: generators.TypeRescan, RequiresMedia: true, Handler: handler},
	)
	h.manager = NewManagerWithNotifier(cfg, h.store, h.ledger, h.catalog, registry, logging.NewNop(), h.notifier)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(h.manager.Stop)
}

func (h *harness) enqueue(t *testing.T, jobType string, mediaID int64, priority int) *queue.Job {
	t.Helper()
	res, err := h.store.Enqueue(context.Background(), queue.NewJob{Type: jobType, MediaID: mediaID, Priority: priority})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	h.manager.Wake()
	return res.Job
}

func (h *harness) waitForStatus(t *testing.T, id string, want queue.Status) *queue.Job {
	t.Helper()
	var job *queue.Job
	waitFor(t, 15*time.Second, func() bool {
		var err error
		job, err = h.store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		return job != nil && job.Status == want
	})
	return job
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func succeed(path string) func(context.Context, stage.Input, stage.Reporter) (stage.Output, error) {
	return func(ctx context.Context, in stage.Input, progress stage.Reporter) (stage.Output, error) {
		if err := progress.Progress(ctx, 1, 1); err != nil {
			return stage.Output{}, err
		}
		return stage.Output{
			Path:    path,
			Payload: stage.EncodeJSON(map[string]any{"tags": in.Tags}),
			Result:  stage.EncodeJSON(map[string]string{"path": path}),
		}, nil
	}
}

func TestManagerCompletesJobAndRecordsArtifact(t *testing.T) {
	handler := &scriptedHandler{run: succeed("/artifacts/thumbnail/1.jpg")}
	h := newHarness(t, handler)
	media := testsupport.NewMedia(t, h.catalog, "clips/a.mp4")
	if _, err := h.catalog.LinkTag(context.Background(), media.ID, "Beach"); err != nil {
		t.Fatalf("LinkTag: %v", err)
	}
	h.start(t)

	job := h.enqueue(t, generators.TypeThumbnail, media.ID, 0)
	done := h.waitForStatus(t, job.ID, queue.StatusDone)
	if !done.HeartbeatAt.IsZero() || done.Error != "" {
		t.Fatalf("done job should have no heartbeat or error: %+v", done)
	}
	if !strings.Contains(string(done.Result), "1.jpg") {
		t.Fatalf("unexpected result %s", done.Result)
	}

	rec, err := h.ledger.Lookup(context.Background(), media.ID, generators.TypeThumbnail)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec == nil || rec.Status != artifacts.StatusReady || rec.Path != "/artifacts/thumbnail/1.jpg" || rec.JobID != job.ID {
		t.Fatalf("unexpected ledger row: %+v", rec)
	}
	if !strings.Contains(string(rec.Payload), "Beach") {
		t.Fatalf("payload should carry tags, got %s", rec.Payload)
	}

	status := h.manager.Status(context.Background())
	if !status.Running || status.LastJob == nil || status.LastJob.ID != job.ID {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.QueueStats[queue.StatusDone] != 1 {
		t.Fatalf("expected one done job, got %+v", status.QueueStats)
	}
	if !status.StageHealth[generators.TypeThumbnail].Ready {
		t.Fatalf("expected healthy stage, got %+v", status.StageHealth)
	}
}

func TestManagerRerunOverwritesLedgerRow(t *testing.T) {
	var n atomic.Int32
	handler := &scriptedHandler{run: func(ctx context.Context, in stage.Input, p stage.Reporter) (stage.Output, error) {
		return succeed(fmt.Sprintf("/out/%d", n.Add(1)))(ctx, in, p)
	}}
	h := newHarness(t, handler)
	media := testsupport.NewMedia(t, h.catalog, "clips/a.mp4")
	h.start(t)

	first := h.enqueue(t, generators.TypeThumbnail, media.ID, 0)
	h.waitForStatus(t, first.ID, queue.StatusDone)
	second := h.enqueue(t, generators.TypeThumbnail, media.ID, 0)
	if second.ID == first.ID {
		t.Fatal("finished jobs must not coalesce")
	}
	h.waitForStatus(t, second.ID, queue.StatusDone)

	rows, err := h.ledger.ListForMedia(context.Background(), media.ID)
	if err != nil {
		t.Fatalf("ListForMedia: %v", err)
	}
	if len(rows) != 1 || rows[0].JobID != second.ID || rows[0].Path != "/out/2" {
		t.Fatalf("expected a single overwritten row, got %+v", rows)
	}
}

func TestManagerFailsPermanentErrors(t *testing.T) {
	handler := &scriptedHandler{run: func(context.Context, stage.Input, stage.Reporter) (stage.Output, error) {
		return stage.Output{}, services.Wrap(services.ErrUnsupported, "thumbnail", "render", "corrupt source", nil)
	}}
	h := newHarness(t, handler)
	media := testsupport.NewMedia(t, h.catalog, "clips/bad.mp4")
	h.start(t)

	job := h.enqueue(t, generators.TypeThumbnail, media.ID, 0)
	failed := h.waitForStatus(t, job.ID, queue.StatusFailed)
	if !strings.Contains(failed.Error, "corrupt source") || len(failed.Result) != 0 {
		t.Fatalf("unexpected failed job: %+v", failed)
	}
	if handler.calls.Load() != 1 {
		t.Fatalf("permanent failures must not retry, got %d calls", handler.calls.Load())
	}
	rec, err := h.ledger.Lookup(context.Background(), media.ID, generators.TypeThumbnail)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec == nil || rec.Status != artifacts.StatusFailed || !strings.Contains(rec.Error, "corrupt source") {
		t.Fatalf("unexpected ledger row: %+v", rec)
	}
	if !strings.Contains(h.manager.Status(context.Background()).LastError, "corrupt source") {
		t.Fatal("status should report the last error")
	}
	payload := h.notifier.waitFor(t, notifications.EventJobFailed)
	if payload["jobType"] != generators.TypeThumbnail || payload["target"] != fmt.Sprintf("media #%d", media.ID) {
		t.Fatalf("unexpected failure notification %+v", payload)
	}
}

func TestManagerRecoversPanickingRoutine(t *testing.T) {
	handler := &scriptedHandler{run: func(context.Context, stage.Input, stage.Reporter) (stage.Output, error) {
		panic("boom")
	}}
	h := newHarness(t, handler)
	media := testsupport.NewMedia(t, h.catalog, "clips/a.mp4")
	h.start(t)

	job := h.enqueue(t, generators.TypeThumbnail, media.ID, 0)
	failed := h.waitForStatus(t, job.ID, queue.StatusFailed)
	if !strings.Contains(failed.Error, "panicked: boom") {
		t.Fatalf("unexpected error %q", failed.Error)
	}
}

func TestManagerTransientFailuresEndAsLostWorker(t *testing.T) {
	handler := &scriptedHandler{run: func(context.Context, stage.Input, stage.Reporter) (stage.Output, error) {
		return stage.Output{}, services.Wrap(services.ErrTransient, "thumbnail", "render", "tool killed", nil)
	}}
	h := newHarness(t, handler)
	h.cfg.Engine.RetryLimit = 1
	h.manager.sweeper.maxRetries = 1
	// Every heartbeat looks an hour old, so each sweep reclaims the job.
	h.manager.sweeper.now = func() time.Time { return time.Now().Add(time.Hour) }
	media := testsupport.NewMedia(t, h.catalog, "clips/a.mp4")
	h.start(t)

	job := h.enqueue(t, generators.TypeThumbnail, media.ID, 0)
	failed := h.waitForStatus(t, job.ID, queue.StatusFailed)
	if failed.Error != queue.LostWorkerError || failed.Retries != 1 {
		t.Fatalf("unexpected failed job: %+v", failed)
	}
	if !failed.HeartbeatAt.IsZero() {
		t.Fatal("failed job must not keep a heartbeat")
	}
	if handler.calls.Load() < 1 {
		t.Fatal("routine never ran")
	}
	if payload := h.notifier.waitFor(t, notifications.EventJobsLost); payload["count"] != "1" {
		t.Fatalf("unexpected lost-job notification %+v", payload)
	}
}

func TestManagerTransientFailureLeavesJobRunning(t *testing.T) {
	handler := &scriptedHandler{run: func(context.Context, stage.Input, stage.Reporter) (stage.Output, error) {
		return stage.Output{}, services.Wrap(services.ErrTimeout, "thumbnail", "render", "slow disk", nil)
	}}
	h := newHarness(t, handler)
	// A sweeper that never sees anything stale.
	h.manager.sweeper.timeout = 0
	media := testsupport.NewMedia(t, h.catalog, "clips/a.mp4")
	h.start(t)

	job := h.enqueue(t, generators.TypeThumbnail, media.ID, 0)
	waitFor(t, 10*time.Second, func() bool {
		got, err := h.store.Get(context.Background(), job.ID)
		return err == nil && got.LastError != ""
	})
	got, _ := h.store.Get(context.Background(), job.ID)
	if got.Status != queue.StatusRunning || got.ClaimToken != "" || !strings.Contains(got.LastError, "slow disk") {
		t.Fatalf("transient failure should leave an unowned running job: %+v", got)
	}
}

func TestManagerCancelsRunningJobCooperatively(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	handler := &scriptedHandler{run: func(ctx context.Context, in stage.Input, progress stage.Reporter) (stage.Output, error) {
		once.Do(func() { close(started) })
		for i := int64(0); ; i++ {
			if err := progress.Progress(ctx, i, 1000); err != nil {
				return stage.Output{}, err
			}
			time.Sleep(10 * time.Millisecond)
		}
	}}
	h := newHarness(t, handler)
	media := testsupport.NewMedia(t, h.catalog, "clips/a.mp4")
	h.start(t)

	job := h.enqueue(t, generators.TypeThumbnail, media.ID, 0)
	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("job never started")
	}
	if _, err := h.store.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	cancelled := h.waitForStatus(t, job.ID, queue.StatusCancelled)
	if !cancelled.HeartbeatAt.IsZero() || cancelled.Progress == 0 {
		t.Fatalf("unexpected cancelled job: %+v", cancelled)
	}
	rec, _ := h.ledger.Lookup(context.Background(), media.ID, generators.TypeThumbnail)
	if rec == nil || rec.Status == artifacts.StatusReady {
		t.Fatalf("cancelled job must not produce a ready artifact: %+v", rec)
	}
}

func TestManagerDispatchesByPriorityThenFIFO(t *testing.T) {
	var mu sync.Mutex
	var order []int64
	handler := &scriptedHandler{run: func(ctx context.Context, in stage.Input, p stage.Reporter) (stage.Output, error) {
		mu.Lock()
		order = append(order, in.MediaID)
		mu.Unlock()
		return succeed("/out")(ctx, in, p)
	}}
	h := newHarness(t, handler, testsupport.WithWorkers(1))
	a := testsupport.NewMedia(t, h.catalog, "a.mp4")
	b := testsupport.NewMedia(t, h.catalog, "b.mp4")
	c := testsupport.NewMedia(t, h.catalog, "c.mp4")
	h.enqueue(t, generators.TypeThumbnail, a.ID, 5)
	h.enqueue(t, generators.TypeThumbnail, b.ID, 5)
	last := h.enqueue(t, generators.TypeThumbnail, c.ID, 9)
	h.start(t)

	waitFor(t, 10*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})
	h.waitForStatus(t, last.ID, queue.StatusDone)
	mu.Lock()
	defer mu.Unlock()
	if order[0] != c.ID || order[1] != a.ID || order[2] != b.ID {
		t.Fatalf("expected C, A, B; got media order %v", order)
	}
}

func TestManagerHonorsPerTypeCap(t *testing.T) {
	var current, peak atomic.Int32
	handler := &scriptedHandler{run: func(ctx context.Context, in stage.Input, p stage.Reporter) (stage.Output, error) {
		n := current.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		current.Add(-1)
		return succeed("/out")(ctx, in, p)
	}}
	h := newHarness(t, handler, testsupport.WithWorkers(4), testsupport.WithConcurrency(generators.TypeThumbnail, 1))

	var ids []string
	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4", "d.mp4"} {
		media := testsupport.NewMedia(t, h.catalog, name)
		ids = append(ids, h.enqueue(t, generators.TypeThumbnail, media.ID, 0).ID)
	}
	h.start(t)
	for _, id := range ids {
		h.waitForStatus(t, id, queue.StatusDone)
	}
	if peak.Load() != 1 {
		t.Fatalf("thumbnail cap is 1, saw %d concurrent runs", peak.Load())
	}
}

func TestManagerFailsJobsForDeletedMedia(t *testing.T) {
	handler := &scriptedHandler{run: succeed("/out")}
	h := newHarness(t, handler)
	media := testsupport.NewMedia(t, h.catalog, "gone.mp4")
	job := h.enqueue(t, generators.TypeThumbnail, media.ID, 0)
	if err := h.catalog.Delete(context.Background(), media.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	h.start(t)

	failed := h.waitForStatus(t, job.ID, queue.StatusFailed)
	if failed.MediaID != 0 || !strings.Contains(failed.Error, "deleted") {
		t.Fatalf("unexpected job: %+v", failed)
	}
	if handler.calls.Load() != 0 {
		t.Fatal("routine must not run without a source")
	}
}

func TestManagerStoreFailureIsFatal(t *testing.T) {
	handler := &scriptedHandler{run: succeed("/out")}
	h := newHarness(t, handler)
	h.start(t)

	if err := h.db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-h.manager.Fatal():
		if !errors.Is(err, services.ErrStore) {
			t.Fatalf("expected store error, got %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("expected a fatal store error")
	}
	if h.manager.Status(context.Background()).Running {
		t.Fatal("engine should not report running after a fatal error")
	}
	h.notifier.waitFor(t, notifications.EventEngineStopped)
	if err := h.manager.Start(context.Background()); err == nil {
		t.Fatal("restart after a fatal error should fail")
	}
}

func TestStartRejectsDoubleStartAndFailedPreflight(t *testing.T) {
	handler := &scriptedHandler{run: succeed("/out")}
	h := newHarness(t, handler)
	h.start(t)
	if err := h.manager.Start(context.Background()); err == nil {
		t.Fatal("expected error on second start")
	}

	broken := newHarness(t, handler)
	if err := os.RemoveAll(broken.cfg.Paths.ArtifactDir); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	err := broken.manager.Start(context.Background())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected preflight configuration error, got %v", err)
	}
}

func TestManagerRunsBuiltInGenerators(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithFastEngine())
	db := testsupport.MustOpenDB(t, cfg)
	store := testsupport.MustOpenStore(t, db)
	ledger := testsupport.MustOpenLedger(t, db)
	cat := testsupport.MustOpenCatalog(t, db)

	renderer := generators.Renderer(rendererFunc(func(_ context.Context, req ffmpeg.Request) error {
		return os.WriteFile(req.Output, []byte("jpeg"), 0o644)
	}))
	prober := generators.ProberFunc(func(context.Context, string) (ffprobe.Result, error) {
		return ffprobe.Result{
			Streams: []ffprobe.Stream{{CodecType: "video", Width: 1280, Height: 720}},
			Format:  ffprobe.Format{Duration: "60.0", FormatName: "mov,mp4"},
		}, nil
	})
	registry := generators.Default(cfg, renderer, prober, cat, logging.NewNop())
	manager := NewManager(cfg, store, ledger, cat, registry, logging.NewNop())

	media := testsupport.NewMediaFile(t, cfg, cat, "clips/a.mp4", 16)
	res, err := store.Enqueue(context.Background(), queue.NewJob{Type: generators.TypeThumbnail, MediaID: media.ID})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	rescan, err := store.Enqueue(context.Background(), queue.NewJob{Type: generators.TypeRescan, MediaID: media.ID})
	if err != nil {
		t.Fatalf("Enqueue rescan: %v", err)
	}
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	h := &harness{store: store}
	h.waitForStatus(t, res.Job.ID, queue.StatusDone)
	h.waitForStatus(t, rescan.Job.ID, queue.StatusDone)

	rec, err := ledger.Lookup(context.Background(), media.ID, generators.TypeThumbnail)
	if err != nil || rec == nil {
		t.Fatalf("Lookup: %v %+v", err, rec)
	}
	if rec.Status != artifacts.StatusReady {
		t.Fatalf("expected ready artifact, got %s", rec.Status)
	}
	if _, err := os.Stat(rec.Path); err != nil {
		t.Fatalf("artifact file missing: %v", err)
	}
	updated, err := cat.Get(context.Background(), media.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.Width != 1280 || updated.DurationSeconds != 60 {
		t.Fatalf("rescan should update technical metadata: %+v", updated)
	}
	if rows, _ := ledger.ListForMedia(context.Background(), media.ID); len(rows) != 1 {
		t.Fatalf("rescan must not write a ledger row, got %d rows", len(rows))
	}
}

type rendererFunc func(ctx context.Context, req ffmpeg.Request) error

func (f rendererFunc) Render(ctx context.Context, req ffmpeg.Request) error { return f(ctx, req) }
