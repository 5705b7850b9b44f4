package workflow

import (
	"context"
	"log/slog"
	"strings"

	"mediaforge/internal/logging"
	"mediaforge/internal/preflight"
	"mediaforge/internal/services"
)

// runPreflightChecks refuses to start dispatch while the data, artifact, or
// log directories are unusable.
func (m *Manager) runPreflightChecks(ctx context.Context, logger *slog.Logger) error {
	results := preflight.RunAll(ctx, m.cfg)
	failed := preflight.Failed(results)
	logger.Debug("preflight complete",
		logging.Int("checks", len(results)),
		logging.Int("failed", len(failed)),
	)
	if len(failed) == 0 {
		return nil
	}

	details := make([]string, 0, len(failed))
	for _, r := range failed {
		logging.ErrorWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "fix the reported path and restart the daemon"),
		)
		details = append(details, r.Name+": "+r.Detail)
	}
	return services.Wrap(services.ErrConfiguration, "workflow", "preflight", strings.Join(details, "; "), nil)
}
