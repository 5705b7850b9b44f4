package logging_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mediaforge/internal/config"
	"mediaforge/internal/logging"
	"mediaforge/internal/services"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(content)
}

func TestConsoleLoggerFormatsComponentAndJobTag(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithJobID(context.Background(), "0123456789abcdef")
	ctx = services.WithWorker(ctx, 3)
	logging.WithContext(ctx, logging.NewComponentLogger(logger, "workflow")).Info("job finished", logging.Duration("duration", 1500*time.Millisecond))

	content := readLog(t, logPath)
	for _, want := range []string{"INFO workflow: job finished", "[job 01234567]", "worker=3", "duration=1.5s"} {
		if !strings.Contains(content, want) {
			t.Fatalf("expected %q in console output, got %q", want, content)
		}
	}
	if strings.Contains(content, ".go:") {
		t.Fatalf("expected no caller information at info level, got %q", content)
	}
}

func TestConsoleLoggerQuotesValuesWithSpaces(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "quote.log")
	logger, err := logging.New(logging.Options{Format: "console", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("probe", logging.String("path", "a b.mp4"), logging.Group("result", logging.Int("frames", 12)))

	content := readLog(t, logPath)
	if !strings.Contains(content, `path="a b.mp4"`) {
		t.Fatalf("expected quoted path, got %q", content)
	}
	if !strings.Contains(content, "result.frames=12") {
		t.Fatalf("expected flattened group key, got %q", content)
	}
}

func TestJSONLoggerUsesStableKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("sweeper requeued job", logging.String(logging.FieldJobID, "abc"))

	var entry map[string]any
	line := strings.TrimSpace(readLog(t, logPath))
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("decode json log %q: %v", line, err)
	}
	if entry["level"] != "warn" {
		t.Fatalf("expected lower-case level, got %v", entry["level"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", entry)
	}
	if entry[logging.FieldJobID] != "abc" {
		t.Fatalf("expected job id field, got %v", entry)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "debug"
	logPath := filepath.Join(t.TempDir(), "logs", "run.log")

	logger, err := logging.NewFromConfig(&cfg, logPath)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Debug("debug message")
	if !strings.Contains(readLog(t, logPath), "debug message") {
		t.Fatal("expected debug message in log file")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "json", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "artifact write slow", "artifact_slow",
		logging.String(logging.FieldImpact, "job finishes late"),
	)

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, logPath))), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry[logging.FieldEventType] != "artifact_slow" {
		t.Fatalf("expected event_type, got %v", entry)
	}
	if entry[logging.FieldImpact] != "job finishes late" {
		t.Fatalf("expected caller impact preserved, got %v", entry[logging.FieldImpact])
	}
	if entry[logging.FieldErrorHint] == nil {
		t.Fatalf("expected default error_hint, got %v", entry)
	}
}

func TestErrorAttrHandlesNil(t *testing.T) {
	if got := logging.Error(nil).Value.String(); got != "<nil>" {
		t.Fatalf("unexpected nil error rendering: %q", got)
	}
	if got := logging.Error(errors.New("boom")).Key; got != "error" {
		t.Fatalf("unexpected key: %q", got)
	}
}

func TestCleanupOldLogsRemovesExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "mediaforge-old.log")
	keepPath := filepath.Join(dir, "mediaforge-current.log")
	otherPath := filepath.Join(dir, "notes.txt")
	for _, path := range []string{oldPath, keepPath, otherPath} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		past := time.Now().AddDate(0, 0, -10)
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed := logging.CleanupOldLogs(logging.NewNop(), 5, logging.RetentionTarget{
		Dir:     dir,
		Pattern: "mediaforge-*.log",
		Exclude: []string{keepPath},
	})
	if removed != 1 {
		t.Fatalf("expected one file removed, got %d", removed)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("expected old log removed, stat err=%v", err)
	}
	for _, path := range []string{keepPath, otherPath} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s retained: %v", path, err)
		}
	}
}
