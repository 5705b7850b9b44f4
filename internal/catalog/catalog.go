package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"mediaforge/internal/artifacts"
	"mediaforge/internal/services"
	"mediaforge/internal/sqlitex"
)

// Catalog reads and writes media metadata in the shared database.
type Catalog struct {
	db     *sqlitex.DB
	ledger *artifacts.Ledger
	now    func() time.Time
}

// New wraps an opened database. The ledger receives invalidations when a
// scanned file changes; it may be nil in tools that never rescan.
func New(db *sqlitex.DB, ledger *artifacts.Ledger) *Catalog {
	return &Catalog{db: db, ledger: ledger, now: time.Now}
}

const mediaColumns = "id, path, mtime, size, duration_seconds, width, height, bitrate, format, metadata_json, phash, rating, favorite, created_at, updated_at"

func scanMedia(scanner interface{ Scan(...any) error }) (*Media, error) {
	var (
		m        Media
		mtime    sql.NullString
		duration sql.NullFloat64
		width    sql.NullInt64
		height   sql.NullInt64
		bitrate  sql.NullInt64
		format   sql.NullString
		metadata sql.NullString
		phash    sql.NullString
		rating   sql.NullInt64
		favorite int
		created  sql.NullString
		updated  sql.NullString
	)
	if err := scanner.Scan(&m.ID, &m.Path, &mtime, &m.Size, &duration, &width, &height, &bitrate,
		&format, &metadata, &phash, &rating, &favorite, &created, &updated); err != nil {
		return nil, err
	}
	m.ModTime = sqlitex.NullTime(mtime)
	m.DurationSeconds = duration.Float64
	m.Width = int(width.Int64)
	m.Height = int(height.Int64)
	m.Bitrate = bitrate.Int64
	m.Format = format.String
	if metadata.Valid && metadata.String != "" {
		m.Metadata = []byte(metadata.String)
	}
	m.Fingerprint = phash.String
	m.Rating = int(rating.Int64)
	m.Favorite = favorite != 0
	m.CreatedAt = sqlitex.NullTime(created)
	m.UpdatedAt = sqlitex.NullTime(updated)
	return &m, nil
}

// NormalizePath converts a scanner path into the stored relative form.
func NormalizePath(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", services.Wrap(services.ErrValidation, "catalog", "normalize path", "path is required", nil)
	}
	if filepath.IsAbs(trimmed) || strings.HasPrefix(trimmed, "/") {
		return "", services.Wrap(services.ErrValidation, "catalog", "normalize path",
			fmt.Sprintf("path %q must be relative to the media root", raw), nil)
	}
	cleaned := path.Clean(filepath.ToSlash(trimmed))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", services.Wrap(services.ErrValidation, "catalog", "normalize path",
			fmt.Sprintf("path %q escapes the media root", raw), nil)
	}
	return cleaned, nil
}

// UpsertScanned registers a scanned file. New paths are inserted; a known
// path whose modification time or size differs is updated and its ready
// artifacts are marked stale. Nothing is enqueued.
func (c *Catalog) UpsertScanned(ctx context.Context, in ScanInput) (*Media, ScanOutcome, error) {
	rel, err := NormalizePath(in.Path)
	if err != nil {
		return nil, "", err
	}
	if in.ModTime.IsZero() {
		return nil, "", services.Wrap(services.ErrValidation, "catalog", "upsert scanned", "modification time is required", nil)
	}
	mtime := sqlitex.FormatTime(in.ModTime)
	now := sqlitex.FormatTime(c.now())

	var (
		media   *Media
		outcome ScanOutcome
	)
	err = c.db.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanMedia(tx.QueryRowContext(ctx, "SELECT "+mediaColumns+" FROM media WHERE path = ?", rel))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO media (path, mtime, size, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
				rel, mtime, in.Size, now, now); err != nil {
				return err
			}
			outcome = ScanCreated
		case err != nil:
			return err
		case sqlitex.FormatTime(existing.ModTime) == mtime && existing.Size == in.Size:
			media = existing
			outcome = ScanUnchanged
			return nil
		default:
			if _, err := tx.ExecContext(ctx,
				"UPDATE media SET mtime = ?, size = ?, updated_at = ? WHERE id = ?",
				mtime, in.Size, now, existing.ID); err != nil {
				return err
			}
			if c.ledger != nil {
				if _, err := c.ledger.InvalidateForMediaTx(ctx, tx, existing.ID, in.ModTime); err != nil {
					return err
				}
			}
			outcome = ScanChanged
		}
		loaded, err := scanMedia(tx.QueryRowContext(ctx, "SELECT "+mediaColumns+" FROM media WHERE path = ?", rel))
		media = loaded
		return err
	})
	if err != nil {
		return nil, "", storeErr("upsert scanned", err)
	}
	return media, outcome, nil
}

// Get returns the media row with id, or nil when none exists.
func (c *Catalog) Get(ctx context.Context, id int64) (*Media, error) {
	m, err := scanMedia(c.db.SQL().QueryRowContext(ctx, "SELECT "+mediaColumns+" FROM media WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get", err)
	}
	return m, nil
}

// GetByPath looks up a media row by its relative path.
func (c *Catalog) GetByPath(ctx context.Context, raw string) (*Media, error) {
	rel, err := NormalizePath(raw)
	if err != nil {
		return nil, err
	}
	m, err := scanMedia(c.db.SQL().QueryRowContext(ctx, "SELECT "+mediaColumns+" FROM media WHERE path = ?", rel))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get by path", err)
	}
	return m, nil
}

// Delete removes a media row. Its artifacts and label links go with it;
// jobs that referenced it keep running with no media.
func (c *Catalog) Delete(ctx context.Context, id int64) error {
	res, err := c.db.Exec(ctx, "DELETE FROM media WHERE id = ?", id)
	if err != nil {
		return storeErr("delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.Wrap(services.ErrNotFound, "catalog", "delete", fmt.Sprintf("media %d", id), nil)
	}
	return nil
}

// SetTechnical stores probe results for a media row.
func (c *Catalog) SetTechnical(ctx context.Context, id int64, tech Technical) error {
	var metadata any
	if len(tech.Metadata) > 0 {
		metadata = string(tech.Metadata)
	}
	res, err := c.db.Exec(ctx, `
UPDATE media SET duration_seconds = ?, width = ?, height = ?, bitrate = ?, format = ?, metadata_json = ?, updated_at = ?
WHERE id = ?`,
		tech.DurationSeconds, tech.Width, tech.Height, tech.Bitrate, sqlitex.NullableString(tech.Format), metadata,
		sqlitex.FormatTime(c.now()), id)
	if err != nil {
		return storeErr("set technical", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.Wrap(services.ErrNotFound, "catalog", "set technical", fmt.Sprintf("media %d", id), nil)
	}
	return nil
}

// SetRating updates the user-facing rating and favorite flag.
func (c *Catalog) SetRating(ctx context.Context, id int64, rating int, favorite bool) error {
	if rating < 0 || rating > 5 {
		return services.Wrap(services.ErrValidation, "catalog", "set rating", "rating must be between 0 and 5", nil)
	}
	res, err := c.db.Exec(ctx, "UPDATE media SET rating = ?, favorite = ?, updated_at = ? WHERE id = ?",
		sqlitex.NullableInt64(int64(rating)), sqlitex.BoolToInt(favorite), sqlitex.FormatTime(c.now()), id)
	if err != nil {
		return storeErr("set rating", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.Wrap(services.ErrNotFound, "catalog", "set rating", fmt.Sprintf("media %d", id), nil)
	}
	return nil
}

func storeErr(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, services.ErrValidation) || errors.Is(err, services.ErrNotFound) {
		return err
	}
	return services.Wrap(services.ErrStore, "catalog", operation, "", err)
}
