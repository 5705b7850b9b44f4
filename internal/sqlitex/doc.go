// Package sqlitex owns the single SQLite database file shared by the job
// store, the artifact ledger, and the media catalog.
//
// It opens the file with WAL journaling, enforced foreign keys, and a busy
// timeout on every pooled connection, applies the embedded schema, and
// provides the busy-retry and transaction helpers the stores build their
// atomic operations on. Timestamps are stored as fixed-width UTC strings so
// lexical ordering in SQL matches chronological ordering.
//
// Schema changes bump schemaVersion; an existing file with another version is
// rejected with ErrSchemaMismatch rather than migrated.
package sqlitex
