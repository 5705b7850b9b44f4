// Package logs tails the daemon's run log for the CLI and the HTTP API.
//
// A negative offset asks for the last N lines; callers then resume from the
// returned offset. Follow mode polls for appended lines until the wait
// expires. A Contains filter narrows output to one job or media id without
// parsing either log format.
package logs
