package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"mediaforge/internal/services"
	"mediaforge/internal/textutil"
)

type labelKind struct {
	table     string
	linkTable string
	linkCol   string
}

var (
	tagKind       = labelKind{table: "tags", linkTable: "media_tags", linkCol: "tag_id"}
	performerKind = labelKind{table: "performers", linkTable: "media_performers", linkCol: "performer_id"}
)

// UpsertTag returns the tag whose normalized key matches name, creating it
// with name as the display spelling when none exists.
func (c *Catalog) UpsertTag(ctx context.Context, name string) (*Label, error) {
	return c.upsertLabel(ctx, tagKind, name)
}

// UpsertPerformer is UpsertTag for performers.
func (c *Catalog) UpsertPerformer(ctx context.Context, name string) (*Label, error) {
	return c.upsertLabel(ctx, performerKind, name)
}

// LinkTag attaches a tag (created on demand) to a media row.
func (c *Catalog) LinkTag(ctx context.Context, mediaID int64, name string) (*Label, error) {
	return c.link(ctx, tagKind, mediaID, name)
}

// LinkPerformer attaches a performer (created on demand) to a media row.
func (c *Catalog) LinkPerformer(ctx context.Context, mediaID int64, name string) (*Label, error) {
	return c.link(ctx, performerKind, mediaID, name)
}

// TagsFor lists the tags linked to a media row ordered by name.
func (c *Catalog) TagsFor(ctx context.Context, mediaID int64) ([]Label, error) {
	return c.labelsFor(ctx, tagKind, mediaID)
}

// PerformersFor lists the performers linked to a media row ordered by name.
func (c *Catalog) PerformersFor(ctx context.Context, mediaID int64) ([]Label, error) {
	return c.labelsFor(ctx, performerKind, mediaID)
}

func normalizeLabel(name string) (string, string, error) {
	display := strings.Join(strings.Fields(name), " ")
	norm := textutil.NormKey(display)
	if norm == "" {
		return "", "", services.Wrap(services.ErrValidation, "catalog", "label", fmt.Sprintf("name %q has no letters or digits", name), nil)
	}
	return display, norm, nil
}

func upsertLabelTx(ctx context.Context, tx *sql.Tx, kind labelKind, display, norm string) (*Label, error) {
	label := Label{Norm: norm}
	err := tx.QueryRowContext(ctx,
		"INSERT INTO "+kind.table+" (name, norm) VALUES (?, ?) ON CONFLICT (norm) DO UPDATE SET norm = excluded.norm RETURNING id, name",
		display, norm).Scan(&label.ID, &label.Name)
	if err != nil {
		return nil, err
	}
	return &label, nil
}

func (c *Catalog) upsertLabel(ctx context.Context, kind labelKind, name string) (*Label, error) {
	display, norm, err := normalizeLabel(name)
	if err != nil {
		return nil, err
	}
	var label *Label
	err = c.db.WithTx(ctx, func(tx *sql.Tx) error {
		label, err = upsertLabelTx(ctx, tx, kind, display, norm)
		return err
	})
	if err != nil {
		return nil, storeErr("upsert "+kind.table, err)
	}
	return label, nil
}

func (c *Catalog) link(ctx context.Context, kind labelKind, mediaID int64, name string) (*Label, error) {
	display, norm, err := normalizeLabel(name)
	if err != nil {
		return nil, err
	}
	var label *Label
	err = c.db.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM media WHERE id = ?", mediaID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return services.Wrap(services.ErrNotFound, "catalog", "link "+kind.table, fmt.Sprintf("media %d", mediaID), nil)
		}
		label, err = upsertLabelTx(ctx, tx, kind, display, norm)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO "+kind.linkTable+" (media_id, "+kind.linkCol+") VALUES (?, ?)", mediaID, label.ID)
		return err
	})
	if err != nil {
		return nil, storeErr("link "+kind.table, err)
	}
	return label, nil
}

func (c *Catalog) labelsFor(ctx context.Context, kind labelKind, mediaID int64) ([]Label, error) {
	rows, err := c.db.SQL().QueryContext(ctx,
		"SELECT l.id, l.name, l.norm FROM "+kind.table+" l JOIN "+kind.linkTable+" m ON m."+kind.linkCol+" = l.id WHERE m.media_id = ? ORDER BY l.norm",
		mediaID)
	if err != nil {
		return nil, storeErr("list "+kind.table, err)
	}
	defer rows.Close()
	var out []Label
	for rows.Next() {
		var label Label
		if err := rows.Scan(&label.ID, &label.Name, &label.Norm); err != nil {
			return nil, storeErr("list "+kind.table, err)
		}
		out = append(out, label)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list "+kind.table, err)
	}
	return out, nil
}

// Names returns the display names of labels.
func Names(labels []Label) []string {
	out := make([]string, 0, len(labels))
	for _, label := range labels {
		out = append(out, label.Name)
	}
	return out
}
