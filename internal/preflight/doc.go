// Package preflight provides readiness checks for the filesystem paths and
// external binaries mediaforge depends on.
//
// These checks run in two contexts:
//   - The workflow manager calls RunAll before it starts dispatching. If any
//     check fails the engine refuses to start rather than failing every job.
//   - The daemon status report includes the same results so an operator can
//     see why artifacts are not being produced.
package preflight
