// Package artifacts is the ledger of generated sidecar files: one row per
// (media, artifact type) recording where the latest artifact lives, its
// status, and the media modification time it was generated from.
//
// Workers write the ledger; everything else reads it. Regeneration updates the
// existing row in place. When the catalog sees a media file change it calls
// InvalidateForMedia, which marks ready rows stale but never enqueues work;
// deciding to regenerate is the catalog's call.
package artifacts
