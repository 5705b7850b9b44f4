package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateConcurrency(); err != nil {
		return err
	}
	if err := c.validateArtifacts(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateEngine() error {
	if err := ensurePositiveMap(map[string]int{
		"engine.workers":                   c.Engine.Workers,
		"engine.dispatch_poll_interval_ms": c.Engine.DispatchPollIntervalMS,
		"engine.error_retry_interval":      c.Engine.ErrorRetryInterval,
		"engine.sweep_interval":            c.Engine.SweepInterval,
		"engine.shutdown_grace":            c.Engine.ShutdownGrace,
		"tools.tool_timeout":               c.Tools.ToolTimeout,
		"notifications.request_timeout":    c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Engine.HeartbeatInterval <= 0 {
		return errors.New("engine.heartbeat_interval must be positive")
	}
	if c.Engine.HeartbeatTimeout <= 0 {
		return errors.New("engine.heartbeat_timeout must be positive")
	}
	if c.Engine.HeartbeatTimeout <= c.Engine.HeartbeatInterval {
		return errors.New("engine.heartbeat_timeout must be greater than engine.heartbeat_interval")
	}
	if c.Engine.RetryLimit < 0 {
		return errors.New("engine.retry_limit must be >= 0")
	}
	return nil
}

func (c *Config) validateConcurrency() error {
	keys := make([]string, 0, len(c.Concurrency))
	for key := range c.Concurrency {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	known := DefaultConcurrency()
	for _, key := range keys {
		if _, ok := known[key]; !ok {
			return fmt.Errorf("concurrency.%s is not a job type (expected one of %s)", key, strings.Join(sortedKeys(known), ", "))
		}
		if c.Concurrency[key] < 0 {
			return fmt.Errorf("concurrency.%s must be >= 0 (0 means uncapped)", key)
		}
	}
	return nil
}

func (c *Config) validateArtifacts() error {
	if c.Artifacts.ThumbnailOffsetPercent < 0 || c.Artifacts.ThumbnailOffsetPercent > 100 {
		return errors.New("artifacts.thumbnail_offset_percent must be between 0 and 100")
	}
	if c.Artifacts.MinFreeGiB < 0 {
		return errors.New("artifacts.min_free_gib must be >= 0")
	}
	return ensurePositiveMap(map[string]int{
		"artifacts.thumbnail_width":   c.Artifacts.ThumbnailWidth,
		"artifacts.preview_seconds":   c.Artifacts.PreviewSeconds,
		"artifacts.preview_width":     c.Artifacts.PreviewWidth,
		"artifacts.sprite_columns":    c.Artifacts.SpriteColumns,
		"artifacts.sprite_rows":       c.Artifacts.SpriteRows,
		"artifacts.sprite_tile_width": c.Artifacts.SpriteTileWidth,
		"artifacts.face_crop_size":    c.Artifacts.FaceCropSize,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for key := range m {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
