package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	ArtifactDir string `toml:"artifact_dir"`
	LogDir      string `toml:"log_dir"`
	MediaRoot   string `toml:"media_root"`
	APIBind     string `toml:"api_bind"`
	APIToken    string `toml:"api_token"`
}

// Engine contains job engine sizing and timing. Interval values are seconds
// unless the key says otherwise.
type Engine struct {
	Workers                int `toml:"workers"`
	DispatchPollIntervalMS int `toml:"dispatch_poll_interval_ms"`
	ErrorRetryInterval     int `toml:"error_retry_interval"`
	HeartbeatInterval      int `toml:"heartbeat_interval"`
	HeartbeatTimeout       int `toml:"heartbeat_timeout"`
	SweepInterval          int `toml:"sweep_interval"`
	RetryLimit             int `toml:"retry_limit"`
	ShutdownGrace          int `toml:"shutdown_grace"`
}

// Tools names the external media binaries.
type Tools struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
	ToolTimeout   int    `toml:"tool_timeout"`
}

// Artifacts holds rendering defaults applied when a job payload omits them.
type Artifacts struct {
	ThumbnailWidth         int `toml:"thumbnail_width"`
	ThumbnailOffsetPercent int `toml:"thumbnail_offset_percent"`
	PreviewSeconds         int `toml:"preview_seconds"`
	PreviewWidth           int `toml:"preview_width"`
	SpriteColumns          int `toml:"sprite_columns"`
	SpriteRows             int `toml:"sprite_rows"`
	SpriteTileWidth        int `toml:"sprite_tile_width"`
	FaceCropSize           int `toml:"face_crop_size"`
	MinFreeGiB             int `toml:"min_free_gib"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobFailures    bool   `toml:"job_failures"`
	EngineErrors   bool   `toml:"engine_errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for mediaforge.
//
// Configuration sections by subsystem:
//   - Paths: database, artifact, log and media directories plus the API bind address
//   - Engine: worker pool size, heartbeat protocol and sweeper timing
//   - Concurrency: per job type caps on simultaneously running jobs
//   - Tools: ffmpeg/ffprobe binaries and their timeout
//   - Artifacts: rendering defaults for generated sidecars
//   - Notifications: ntfy topic and which events are pushed
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths          `toml:"paths"`
	Engine        Engine         `toml:"engine"`
	Concurrency   map[string]int `toml:"concurrency"`
	Tools         Tools          `toml:"tools"`
	Artifacts     Artifacts      `toml:"artifacts"`
	Notifications Notifications  `toml:"notifications"`
	Logging       Logging        `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if err := loadDotEnv(resolvedPath); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv overlays .env files beside the config file and in the working
// directory. Variables already present in the environment win. A file that
// exists but does not parse is an error rather than a silently missing secret.
func loadDotEnv(configPath string) error {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err != nil || info.IsDir() {
			continue
		}
		if err := godotenv.Load(candidate); err != nil {
			return fmt.Errorf("load env file %s: %w", candidate, err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("mediaforge.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// MediaRoot is never created; it belongs to the catalog.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.ArtifactDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the job store database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "mediaforge.db")
}

// SocketPath returns the IPC socket used by the CLI to reach the daemon.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.DataDir, "mediaforge.sock")
}

// LockPath returns the single-instance lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "mediaforge.lock")
}

// PIDPath returns the file the daemon writes its process id to.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "mediaforge.pid")
}

// ResolveMediaPath turns a catalog-relative media path into an absolute one.
func (c *Config) ResolveMediaPath(rel string) string {
	if filepath.IsAbs(rel) || c.Paths.MediaRoot == "" {
		return filepath.Clean(rel)
	}
	return filepath.Join(c.Paths.MediaRoot, filepath.FromSlash(rel))
}

// ConcurrencyCap returns the running-job cap for a job type; zero means uncapped.
func (c *Config) ConcurrencyCap(jobType string) int {
	return c.Concurrency[jobType]
}

// HeartbeatInterval returns the worker heartbeat period.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Engine.HeartbeatInterval) * time.Second
}

// HeartbeatTimeout returns the age after which a running job is presumed abandoned.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Engine.HeartbeatTimeout) * time.Second
}

// SweepInterval returns how often the recovery sweeper runs.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Engine.SweepInterval) * time.Second
}

// DispatchPollInterval returns the dispatcher idle poll period.
func (c *Config) DispatchPollInterval() time.Duration {
	return time.Duration(c.Engine.DispatchPollIntervalMS) * time.Millisecond
}

// ErrorRetryInterval returns the dispatcher back-off after a store error.
func (c *Config) ErrorRetryInterval() time.Duration {
	return time.Duration(c.Engine.ErrorRetryInterval) * time.Second
}

// ShutdownGrace is how long shutdown waits for workers before exiting anyway.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Engine.ShutdownGrace) * time.Second
}

// ToolTimeout bounds a single external tool invocation.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Tools.ToolTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
