// Package ffmpeg renders artifact files by invoking the ffmpeg binary.
//
// BuildArgs is a pure function from a Request to the argument list, so the
// filter graphs can be tested without ffmpeg installed. Runner executes the
// command with a timeout and maps failures onto the services error markers:
// a missing binary is a configuration error, a timeout or a killed process is
// transient, and a non-zero exit is an external tool failure.
package ffmpeg
