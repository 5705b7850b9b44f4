package sqlitex_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"mediaforge/internal/sqlitex"
)

func openTemp(t *testing.T) (*sqlitex.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "mediaforge.db")
	db, err := sqlitex.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func TestOpenCreatesSchemaAndEnforcesForeignKeys(t *testing.T) {
	db, _ := openTemp(t)
	ctx := context.Background()

	var tables int
	if err := db.SQL().QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name IN ('media','jobs','artifacts','tags','performers')",
	).Scan(&tables); err != nil {
		t.Fatalf("count tables: %v", err)
	}
	if tables != 5 {
		t.Fatalf("expected 5 domain tables, got %d", tables)
	}

	_, err := db.Exec(ctx, `INSERT INTO artifacts (media_id, type, status, created_at, updated_at) VALUES (999, 'thumbnail', 'ready', 'x', 'x')`)
	if err == nil {
		t.Fatal("expected foreign key violation for unknown media")
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	db, path := openTemp(t)
	if _, err := db.Exec(context.Background(), "UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	_, err := sqlitex.Open(context.Background(), path)
	if !errors.Is(err, sqlitex.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	db, path := openTemp(t)
	ctx := context.Background()
	now := sqlitex.FormatTime(time.Now())
	if _, err := db.Exec(ctx, `INSERT INTO media (path, mtime, created_at, updated_at) VALUES ('a.mp4', ?, ?, ?)`, now, now, now); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_ = db.Close()

	reopened, err := sqlitex.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	var count int
	if err := reopened.SQL().QueryRowContext(ctx, "SELECT COUNT(1) FROM media").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected persisted row, got %d", count)
	}
}

func TestFormatTimeSortsLexically(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 100_000_000, time.UTC)
	earlier := sqlitex.FormatTime(base)
	later := sqlitex.FormatTime(base.Add(20 * time.Millisecond))
	if !(earlier < later) {
		t.Fatalf("expected %q < %q", earlier, later)
	}
	if len(earlier) != len(later) {
		t.Fatalf("expected fixed width, got %q and %q", earlier, later)
	}
	parsed, err := sqlitex.ParseTime(earlier)
	if err != nil || !parsed.Equal(base) {
		t.Fatalf("round trip mismatch: %v %v", parsed, err)
	}
}

type busyErr struct{}

func (busyErr) Error() string { return "database is locked" }

func TestRetryOnBusyRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	err := sqlitex.RetryOnBusy(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return busyErr{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}

	other := errors.New("constraint failed")
	attempts = 0
	err = sqlitex.RetryOnBusy(context.Background(), func() error {
		attempts++
		return other
	})
	if !errors.Is(err, other) || attempts != 1 {
		t.Fatalf("expected single attempt for non-busy error, got %d (%v)", attempts, err)
	}
}

func TestPlaceholders(t *testing.T) {
	if got := sqlitex.Placeholders(3); got != "?, ?, ?" {
		t.Fatalf("unexpected placeholders %q", got)
	}
	if got := sqlitex.Placeholders(0); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
