// Package notifications pushes engine events to ntfy.
//
// Only events an operator has to act on are published: permanent job
// failures, jobs abandoned by the recovery sweeper, and store failures that
// stop the engine. Without a configured topic the service is a no-op.
package notifications
