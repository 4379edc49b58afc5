package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marco-interact/colmap-mvp-sub000/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Governor.MaxConcurrentJobs != 4 {
		t.Fatalf("default max_concurrent_jobs = %d, want 4", cfg.Governor.MaxConcurrentJobs)
	}
	if cfg.Engine.ColmapBinary != "colmap" {
		t.Fatalf("default colmap binary = %q", cfg.Engine.ColmapBinary)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
storage_root = "/tmp/recon-test"

[governor]
max_concurrent_jobs = 1
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Governor.MaxConcurrentJobs != 1 {
		t.Fatalf("max_concurrent_jobs = %d, want 1", cfg.Governor.MaxConcurrentJobs)
	}
	if cfg.Paths.StorageRoot != "/tmp/recon-test" {
		t.Fatalf("storage_root = %q", cfg.Paths.StorageRoot)
	}
	if got := cfg.CatalogPath(); got != filepath.Join("/tmp/recon-test", "catalog.db") {
		t.Fatalf("CatalogPath = %q", got)
	}
	if got := cfg.JobDir("abc"); got != filepath.Join("/tmp/recon-test", "results", "abc") {
		t.Fatalf("JobDir = %q", got)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero pool", func(c *config.Config) { c.Governor.MaxConcurrentJobs = 0 }, "max_concurrent_jobs"},
		{"bad format", func(c *config.Config) { c.Logging.Format = "yaml" }, "logging.format"},
		{"bad level", func(c *config.Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"zero timeout", func(c *config.Config) { c.Engine.MatchTimeout = 0 }, "match_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q missing %q", err, tc.want)
			}
		})
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected overwrite refusal")
	}
}
