// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: individual audio/video/subtitle stream properties
//   - Format: container-level metadata (duration, size, bitrate)
//
// Inspect executes ffprobe and classifies failures with the services error
// markers, so the engine can tell a missing binary from a corrupt file.
package ffprobe
