// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. Job,
// media, and status payloads reuse the api package types so the socket and
// the HTTP API stay interchangeable. The client bounds every call with a
// context so CLI commands fail fast when the daemon is wedged.
//
// Reuse these types when adding new RPC endpoints to keep the protocol stable
// and compatible with existing command implementations.
package ipc
