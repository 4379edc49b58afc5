package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StorageRoot string `toml:"storage_root"`
	LogDir      string `toml:"log_dir"`
	APIBind     string `toml:"api_bind"`
}

// Engine contains configuration for the external reconstruction tools.
type Engine struct {
	ColmapBinary string `toml:"colmap_binary"`
	FFmpegBinary string `toml:"ffmpeg_binary"`

	// Per-stage subprocess timeouts in seconds.
	ExtractTimeout int `toml:"extract_timeout"`
	DetectTimeout  int `toml:"detect_timeout"`
	MatchTimeout   int `toml:"match_timeout"`
	SparseTimeout  int `toml:"sparse_timeout"`
	DenseTimeout   int `toml:"dense_timeout"`
	ExportTimeout  int `toml:"export_timeout"`
}

// Governor contains admission and concurrency configuration.
type Governor struct {
	MaxConcurrentJobs    int `toml:"max_concurrent_jobs"`
	QueueCapacity        int `toml:"queue_capacity"`
	SubmissionsPerMinute int `toml:"submissions_per_minute"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config is the root application configuration.
type Config struct {
	Paths    Paths    `toml:"paths"`
	Engine   Engine   `toml:"engine"`
	Governor Governor `toml:"governor"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the canonical config file location.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "reconstruct", "config.toml"), nil
}

// Load reads the config file at path, falling back to defaults when the file
// does not exist. An empty path selects DefaultConfigPath.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// Defaults apply when no config file exists.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StorageRoot, c.ResultsDir(), c.UploadsDir(), c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// CatalogPath returns the location of the project/scan/job catalog database.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.Paths.StorageRoot, "catalog.db")
}

// ResultsDir returns the root of the per-job artifact tree.
func (c *Config) ResultsDir() string {
	return filepath.Join(c.Paths.StorageRoot, "results")
}

// JobDir returns the artifact directory for a job.
func (c *Config) JobDir(jobID string) string {
	return filepath.Join(c.ResultsDir(), jobID)
}

// UploadsDir returns the directory holding uploaded videos awaiting processing.
func (c *Config) UploadsDir() string {
	return filepath.Join(c.Paths.StorageRoot, "uploads")
}

// LockPath returns the daemon singleton lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StorageRoot, "reconstructd.lock")
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.StorageRoot, err = expandPath(c.Paths.StorageRoot); err != nil {
		return fmt.Errorf("paths.storage_root: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Engine.ColmapBinary) == "" {
		c.Engine.ColmapBinary = defaultColmapBinary
	}
	if strings.TrimSpace(c.Engine.FFmpegBinary) == "" {
		c.Engine.FFmpegBinary = defaultFFmpegBinary
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	return nil
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Clean(path), nil
}
