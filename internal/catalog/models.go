package catalog

import (
	"encoding/json"
	"time"
)

// Media is one registered video file. Path is relative to the media root
// and always uses forward slashes.
type Media struct {
	ID              int64
	Path            string
	ModTime         time.Time
	Size            int64
	DurationSeconds float64
	Width           int
	Height          int
	Bitrate         int64
	Format          string
	Metadata        json.RawMessage
	Fingerprint     string
	Rating          int
	Favorite        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ScanInput is what a directory walk knows about a file.
type ScanInput struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// ScanOutcome reports what UpsertScanned did with a file.
type ScanOutcome string

const (
	ScanCreated   ScanOutcome = "created"
	ScanChanged   ScanOutcome = "changed"
	ScanUnchanged ScanOutcome = "unchanged"
)

// Technical is the probe-derived metadata a rescan writes back.
type Technical struct {
	DurationSeconds float64
	Width           int
	Height          int
	Bitrate         int64
	Format          string
	Metadata        json.RawMessage
}

// Label is a tag or performer row.
type Label struct {
	ID   int64
	Name string
	Norm string
}
