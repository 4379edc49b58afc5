package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateGovernor(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.StorageRoot == "" {
		return errors.New("paths.storage_root must be set")
	}
	if c.Paths.APIBind == "" {
		return errors.New("paths.api_bind must be set")
	}
	return nil
}

func (c *Config) validateEngine() error {
	return ensurePositiveMap(map[string]int{
		"engine.extract_timeout": c.Engine.ExtractTimeout,
		"engine.detect_timeout":  c.Engine.DetectTimeout,
		"engine.match_timeout":   c.Engine.MatchTimeout,
		"engine.sparse_timeout":  c.Engine.SparseTimeout,
		"engine.dense_timeout":   c.Engine.DenseTimeout,
		"engine.export_timeout":  c.Engine.ExportTimeout,
	})
}

func (c *Config) validateGovernor() error {
	return ensurePositiveMap(map[string]int{
		"governor.max_concurrent_jobs":    c.Governor.MaxConcurrentJobs,
		"governor.queue_capacity":         c.Governor.QueueCapacity,
		"governor.submissions_per_minute": c.Governor.SubmissionsPerMinute,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for name, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}
	return nil
}
