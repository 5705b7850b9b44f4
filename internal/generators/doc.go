// Package generators implements the routine behind each job type and the
// registry the engine and control surfaces consult to validate requests.
//
// Job types:
//   - thumbnail: one JPEG frame scaled to a width
//   - preview: a short silent H.264 clip
//   - sprite: a JPEG contact sheet plus its grid geometry
//   - face-crop: one JPEG per supplied box, resumable per crop
//   - rescan: refreshes the media row's technical metadata, no artifact
//
// Artifacts are rendered to a temporary sibling and renamed over
// <artifact_dir>/<type>/<media-id or path token>.<ext>, so a rerun replaces
// the previous artifact in place.
package generators
