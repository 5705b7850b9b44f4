// Package catalog owns the media, tag, and performer tables that the job
// engine reads from. The scanner registers files through UpsertScanned, which
// detects modification-time or size changes and invalidates the artifacts
// generated from the previous version. Tags and performers are deduplicated
// by a normalized key so differently cased or accented spellings share a row.
package catalog
