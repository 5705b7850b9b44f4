package workflow

import (
	"context"

	"mediaforge/internal/logging"
	"mediaforge/internal/queue"
	"mediaforge/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool
	LastError   string
	LastJob     *queue.Job
	QueueStats  map[queue.Status]int
	StageHealth map[string]stage.Health
	Workers     int
	BusyWorkers int
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running && m.fatalErr == nil
	lastErr := m.lastErr
	lastJob := m.lastJob
	busy := m.busy
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats",
			logging.Error(err),
			logging.String(logging.FieldEventType, "queue_stats_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
	}

	health := make(map[string]stage.Health)
	for _, t := range m.registry.Types() {
		spec, _ := m.registry.Lookup(t)
		health[t] = spec.Handler.HealthCheck(ctx)
	}

	summary := StatusSummary{
		Running:     running,
		QueueStats:  stats,
		StageHealth: health,
		Workers:     max(m.cfg.Engine.Workers, 1),
		BusyWorkers: busy,
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastJob != nil {
		copy := *lastJob
		summary.LastJob = &copy
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(job *queue.Job) {
	m.mu.Lock()
	if job != nil {
		copy := *job
		m.lastJob = &copy
	} else {
		m.lastJob = nil
	}
	m.mu.Unlock()
}
