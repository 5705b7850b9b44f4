package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"mediaforge/internal/services"
	"mediaforge/internal/sqlitex"
	"mediaforge/internal/textutil"
)

// SetFingerprint stores the perceptual hash computed by an external tool.
func (c *Catalog) SetFingerprint(ctx context.Context, id int64, phash string) error {
	phash = strings.ToLower(strings.TrimSpace(phash))
	if !textutil.ValidPhash(phash) {
		return services.Wrap(services.ErrValidation, "catalog", "set fingerprint", fmt.Sprintf("invalid fingerprint %q", phash), nil)
	}
	res, err := c.db.Exec(ctx, "UPDATE media SET phash = ?, updated_at = ? WHERE id = ?", phash, sqlitex.FormatTime(c.now()), id)
	if err != nil {
		return storeErr("set fingerprint", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.Wrap(services.ErrNotFound, "catalog", "set fingerprint", fmt.Sprintf("media %d", id), nil)
	}
	return nil
}

// Match is a media row whose fingerprint is within the requested distance.
type Match struct {
	Media    *Media
	Distance int
}

// FindByFingerprint returns media whose fingerprint differs from phash by at
// most maxDistance bits, closest first. A zero distance uses the index.
func (c *Catalog) FindByFingerprint(ctx context.Context, phash string, maxDistance int) ([]Match, error) {
	phash = strings.ToLower(strings.TrimSpace(phash))
	if !textutil.ValidPhash(phash) {
		return nil, services.Wrap(services.ErrValidation, "catalog", "find fingerprint", fmt.Sprintf("invalid fingerprint %q", phash), nil)
	}
	query := "SELECT " + mediaColumns + " FROM media WHERE phash IS NOT NULL"
	args := []any{}
	if maxDistance <= 0 {
		query += " AND phash = ?"
		args = append(args, phash)
	}
	rows, err := c.db.SQL().QueryContext(ctx, query+" ORDER BY id", args...)
	if err != nil {
		return nil, storeErr("find fingerprint", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, storeErr("find fingerprint", err)
		}
		distance, err := textutil.PhashDistance(phash, m.Fingerprint)
		if err != nil {
			// Hashes of another width are not comparable.
			continue
		}
		if distance <= maxDistance {
			matches = append(matches, Match{Media: m, Distance: distance})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("find fingerprint", err)
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	return matches, nil
}
