package config

const (
	defaultConfigPath             = "~/.config/mediaforge/config.toml"
	defaultDataDir                = "~/.local/share/mediaforge"
	defaultArtifactDir            = "~/.local/share/mediaforge/artifacts"
	defaultLogDir                 = "~/.local/share/mediaforge/logs"
	defaultAPIBind                = "127.0.0.1:7491"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 30
	defaultWorkers                = 4
	defaultDispatchPollIntervalMS = 1000
	defaultErrorRetryInterval     = 10
	defaultHeartbeatInterval      = 10
	defaultHeartbeatTimeout       = 60
	defaultSweepInterval          = 15
	defaultRetryLimit             = 3
	defaultShutdownGrace          = 10
	defaultFFmpegBinary           = "ffmpeg"
	defaultFFprobeBinary          = "ffprobe"
	defaultToolTimeout            = 600
	defaultThumbnailWidth         = 320
	defaultThumbnailOffsetPercent = 20
	defaultPreviewSeconds         = 8
	defaultPreviewWidth           = 480
	defaultSpriteColumns          = 5
	defaultSpriteRows             = 5
	defaultSpriteTileWidth        = 160
	defaultFaceCropSize           = 256
	defaultMinFreeGiB             = 1
	defaultNotifyTimeout          = 10
)

// DefaultConcurrency returns the per job type running caps. Decode-heavy
// types are kept low so they do not starve thumbnail generation.
func DefaultConcurrency() map[string]int {
	return map[string]int{
		"thumbnail": 4,
		"preview":   1,
		"sprite":    1,
		"face-crop": 2,
		"rescan":    2,
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			ArtifactDir: defaultArtifactDir,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
		},
		Engine: Engine{
			Workers:                defaultWorkers,
			DispatchPollIntervalMS: defaultDispatchPollIntervalMS,
			ErrorRetryInterval:     defaultErrorRetryInterval,
			HeartbeatInterval:      defaultHeartbeatInterval,
			HeartbeatTimeout:       defaultHeartbeatTimeout,
			SweepInterval:          defaultSweepInterval,
			RetryLimit:             defaultRetryLimit,
			ShutdownGrace:          defaultShutdownGrace,
		},
		Concurrency: DefaultConcurrency(),
		Tools: Tools{
			FFmpegBinary:  defaultFFmpegBinary,
			FFprobeBinary: defaultFFprobeBinary,
			ToolTimeout:   defaultToolTimeout,
		},
		Artifacts: Artifacts{
			ThumbnailWidth:         defaultThumbnailWidth,
			ThumbnailOffsetPercent: defaultThumbnailOffsetPercent,
			PreviewSeconds:         defaultPreviewSeconds,
			PreviewWidth:           defaultPreviewWidth,
			SpriteColumns:          defaultSpriteColumns,
			SpriteRows:             defaultSpriteRows,
			SpriteTileWidth:        defaultSpriteTileWidth,
			FaceCropSize:           defaultFaceCropSize,
			MinFreeGiB:             defaultMinFreeGiB,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			JobFailures:    true,
			EngineErrors:   true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
