package testsupport

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mediaforge/internal/artifacts"
	"mediaforge/internal/catalog"
	"mediaforge/internal/config"
	"mediaforge/internal/queue"
	"mediaforge/internal/sqlitex"
)

// MustOpenDB opens the configured database for tests and registers cleanup.
func MustOpenDB(t testing.TB, cfg *config.Config) *sqlitex.DB {
	t.Helper()

	db, err := sqlitex.Open(context.Background(), cfg.DatabasePath())
	if err != nil {
		t.Fatalf("sqlitex.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// MustOpenStore opens a queue.Store for tests.
func MustOpenStore(t testing.TB, db *sqlitex.DB) *queue.Store {
	t.Helper()
	return queue.NewStore(db)
}

// MustOpenLedger opens an artifacts.Ledger for tests.
func MustOpenLedger(t testing.TB, db *sqlitex.DB) *artifacts.Ledger {
	t.Helper()
	return artifacts.NewLedger(db)
}

// MustOpenCatalog opens a catalog wired to a ledger on the same database.
func MustOpenCatalog(t testing.TB, db *sqlitex.DB) *catalog.Catalog {
	t.Helper()
	return catalog.New(db, artifacts.NewLedger(db))
}

// NewMedia registers a media row for relPath. When the file exists under
// the media root its modification time and size are used.
func NewMedia(t testing.TB, cat *catalog.Catalog, relPath string) *catalog.Media {
	t.Helper()

	in := catalog.ScanInput{
		Path:    relPath,
		ModTime: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Size:    1,
	}
	media, _, err := cat.UpsertScanned(context.Background(), in)
	if err != nil {
		t.Fatalf("catalog.UpsertScanned: %v", err)
	}
	return media
}

// NewMediaFile writes a file under the media root and registers it.
func NewMediaFile(t testing.TB, cfg *config.Config, cat *catalog.Catalog, relPath string, size int64) *catalog.Media {
	t.Helper()

	abs := filepath.Join(cfg.Paths.MediaRoot, filepath.FromSlash(relPath))
	WriteFile(t, abs, size)
	info := Stat(t, abs)
	media, _, err := cat.UpsertScanned(context.Background(), catalog.ScanInput{
		Path:    relPath,
		ModTime: info.ModTime(),
		Size:    info.Size(),
	})
	if err != nil {
		t.Fatalf("catalog.UpsertScanned: %v", err)
	}
	return media
}
