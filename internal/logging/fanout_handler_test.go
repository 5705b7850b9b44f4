package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestNewFanoutHandlerCollapses(t *testing.T) {
	if _, ok := newFanoutHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler for all nil handlers")
	}
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if h := newFanoutHandler(nil, inner); h != inner {
		t.Fatal("expected single non-nil handler to be returned unwrapped")
	}
}

func TestFanoutHandlerRespectsPerHandlerLevel(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	infoHandler := slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	debugHandler := slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := slog.New(newFanoutHandler(infoHandler, debugHandler)).With("component", "test")
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected fanout enabled for debug")
	}
	logger.Debug("detail")
	logger.Info("summary")

	if strings.Contains(infoBuf.String(), "detail") {
		t.Fatalf("info handler received debug record: %q", infoBuf.String())
	}
	if !strings.Contains(infoBuf.String(), "summary") || !strings.Contains(debugBuf.String(), "detail") {
		t.Fatalf("unexpected outputs info=%q debug=%q", infoBuf.String(), debugBuf.String())
	}
	if !strings.Contains(debugBuf.String(), "component=test") {
		t.Fatalf("expected attrs propagated, got %q", debugBuf.String())
	}
}

func TestTeeLoggerDuplicatesBase(t *testing.T) {
	var baseBuf, teeBuf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&baseBuf, nil))
	logger := TeeLogger(base, NewJSONHandler(&teeBuf, slog.LevelInfo))
	logger.Info("hello")
	if !strings.Contains(baseBuf.String(), "hello") || !strings.Contains(teeBuf.String(), `"msg":"hello"`) {
		t.Fatalf("expected both outputs, base=%q tee=%q", baseBuf.String(), teeBuf.String())
	}
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("disk full") }

func TestFanoutHandlerKeepsWritingAfterFailure(t *testing.T) {
	var buf bytes.Buffer
	h := newFanoutHandler(failingHandler{slog.NewTextHandler(&bytes.Buffer{}, nil)}, slog.NewTextHandler(&buf, nil))
	record := slog.NewRecord(time.Now(), slog.LevelInfo, "kept", 0)
	if err := h.Handle(context.Background(), record); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected member failure to surface, got %v", err)
	}
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("healthy member missed the record: %q", buf.String())
	}
}
