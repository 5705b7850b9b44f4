package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEngine()
	c.normalizeConcurrency()
	c.normalizeTools()
	c.normalizeArtifacts()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("MEDIAFORGE_MEDIA_ROOT"); ok && strings.TrimSpace(value) != "" {
		c.Paths.MediaRoot = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if strings.TrimSpace(c.Paths.ArtifactDir) == "" {
		c.Paths.ArtifactDir = defaultArtifactDir
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.ArtifactDir, err = expandPath(c.Paths.ArtifactDir); err != nil {
		return fmt.Errorf("paths.artifact_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.MediaRoot, err = expandPath(strings.TrimSpace(c.Paths.MediaRoot)); err != nil {
		return fmt.Errorf("paths.media_root: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	if value, ok := os.LookupEnv("MEDIAFORGE_API_TOKEN"); ok {
		c.Paths.APIToken = value
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeEngine() {
	if c.Engine.Workers == 0 {
		c.Engine.Workers = defaultWorkers
	}
	if c.Engine.DispatchPollIntervalMS == 0 {
		c.Engine.DispatchPollIntervalMS = defaultDispatchPollIntervalMS
	}
	if c.Engine.ErrorRetryInterval == 0 {
		c.Engine.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Engine.SweepInterval == 0 {
		c.Engine.SweepInterval = defaultSweepInterval
	}
	if c.Engine.ShutdownGrace == 0 {
		c.Engine.ShutdownGrace = defaultShutdownGrace
	}
}

// normalizeConcurrency lowercases job type keys and fills types the file
// does not mention with the defaults.
func (c *Config) normalizeConcurrency() {
	merged := DefaultConcurrency()
	for key, value := range c.Concurrency {
		name := strings.ToLower(strings.TrimSpace(key))
		if name == "" {
			continue
		}
		merged[strings.ReplaceAll(name, "_", "-")] = value
	}
	c.Concurrency = merged
}

func (c *Config) normalizeTools() {
	c.Tools.FFmpegBinary = strings.TrimSpace(c.Tools.FFmpegBinary)
	if c.Tools.FFmpegBinary == "" {
		c.Tools.FFmpegBinary = defaultFFmpegBinary
	}
	c.Tools.FFprobeBinary = strings.TrimSpace(c.Tools.FFprobeBinary)
	if c.Tools.FFprobeBinary == "" {
		c.Tools.FFprobeBinary = defaultFFprobeBinary
	}
	if c.Tools.ToolTimeout == 0 {
		c.Tools.ToolTimeout = defaultToolTimeout
	}
}

func (c *Config) normalizeArtifacts() {
	defaults := Default().Artifacts
	fill := func(value *int, fallback int) {
		if *value == 0 {
			*value = fallback
		}
	}
	fill(&c.Artifacts.ThumbnailWidth, defaults.ThumbnailWidth)
	fill(&c.Artifacts.PreviewSeconds, defaults.PreviewSeconds)
	fill(&c.Artifacts.PreviewWidth, defaults.PreviewWidth)
	fill(&c.Artifacts.SpriteColumns, defaults.SpriteColumns)
	fill(&c.Artifacts.SpriteRows, defaults.SpriteRows)
	fill(&c.Artifacts.SpriteTileWidth, defaults.SpriteTileWidth)
	fill(&c.Artifacts.FaceCropSize, defaults.FaceCropSize)
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout == 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	if value, ok := os.LookupEnv("MEDIAFORGE_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
