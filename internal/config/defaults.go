package config

const (
	defaultStorageRoot          = "~/.local/share/reconstruct/storage"
	defaultLogDir               = "~/.local/share/reconstruct/logs"
	defaultAPIBind              = "127.0.0.1:8080"
	defaultColmapBinary         = "colmap"
	defaultFFmpegBinary         = "ffmpeg"
	defaultExtractTimeout       = 300
	defaultDetectTimeout        = 600
	defaultMatchTimeout         = 1200
	defaultSparseTimeout        = 1800
	defaultDenseTimeout         = 1800
	defaultExportTimeout        = 120
	defaultMaxConcurrentJobs    = 4
	defaultQueueCapacity        = 32
	defaultSubmissionsPerMinute = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StorageRoot: defaultStorageRoot,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
		},
		Engine: Engine{
			ColmapBinary:   defaultColmapBinary,
			FFmpegBinary:   defaultFFmpegBinary,
			ExtractTimeout: defaultExtractTimeout,
			DetectTimeout:  defaultDetectTimeout,
			MatchTimeout:   defaultMatchTimeout,
			SparseTimeout:  defaultSparseTimeout,
			DenseTimeout:   defaultDenseTimeout,
			ExportTimeout:  defaultExportTimeout,
		},
		Governor: Governor{
			MaxConcurrentJobs:    defaultMaxConcurrentJobs,
			QueueCapacity:        defaultQueueCapacity,
			SubmissionsPerMinute: defaultSubmissionsPerMinute,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
