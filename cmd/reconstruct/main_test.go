package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"github.com/marco-interact/colmap-mvp-sub000/internal/catalog"
	"github.com/marco-interact/colmap-mvp-sub000/internal/config"
	"github.com/marco-interact/colmap-mvp-sub000/internal/daemon"
	"github.com/marco-interact/colmap-mvp-sub000/internal/governor"
	"github.com/marco-interact/colmap-mvp-sub000/internal/logging"
	"github.com/marco-interact/colmap-mvp-sub000/internal/quality"
	"github.com/marco-interact/colmap-mvp-sub000/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *catalog.Store
	daemon     *daemon.Daemon
	configPath string
	serverURL  string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	d, err := daemon.New(cfg, store, logging.NewNop(),
		daemon.WithProber(governor.StaticProber{Tier: quality.TierCPU}))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		daemon:     d,
		configPath: configPath,
		serverURL:  "http://" + d.Addr(),
	}
}

func runCommand(t *testing.T, env *cliTestEnv, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	full := append([]string{"--server", env.serverURL, "--config", env.configPath}, args...)
	cmd.SetArgs(full)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCommand(t, env, "status")
	if err != nil {
		t.Fatalf("status: %v (%s)", err, out)
	}
	if !strings.Contains(out, "Compute tier: cpu") {
		t.Fatalf("missing tier line: %s", out)
	}
	if !strings.Contains(out, "Daemon:       ok") {
		t.Fatalf("missing daemon line: %s", out)
	}
}

func TestJobsCommandEmptyAndPopulated(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCommand(t, env, "jobs")
	if err != nil {
		t.Fatalf("jobs: %v (%s)", err, out)
	}
	if !strings.Contains(out, "No jobs found") {
		t.Fatalf("expected empty message, got %s", out)
	}

	job := testsupport.NewJob(t, env.store, "medium")
	out, err = runCommand(t, env, "jobs", "--status", "pending")
	if err != nil {
		t.Fatalf("jobs --status: %v (%s)", err, out)
	}
	if !strings.Contains(out, job.ID) {
		t.Fatalf("expected job id in output: %s", out)
	}
}

func TestInspectCommandUnknownJob(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCommand(t, env, "inspect", "no-such-job")
	if err == nil {
		t.Fatalf("expected error, got output %s", out)
	}
	if !strings.Contains(err.Error(), "job not found") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConfigInitCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, err := runCommand(t, env, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v (%s)", err, out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	// A second init refuses to overwrite.
	if _, err := runCommand(t, env, "config", "init", "--path", target); err == nil {
		t.Fatal("expected error for existing config")
	}
}

func TestDemoResetCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	// Pre-existing rows are wiped before the demo project is seeded.
	testsupport.NewJob(t, env.store, "medium")

	out, err := runCommand(t, env, "demo", "reset")
	if err != nil {
		t.Fatalf("demo reset: %v (%s)", err, out)
	}
	if !strings.Contains(out, "Demo Project") {
		t.Fatalf("expected seeded project in output: %s", out)
	}

	projects, err := env.store.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(projects) != 1 || projects[0].Name != "Demo Project" {
		t.Fatalf("unexpected catalog contents: %+v", projects)
	}
	jobs, err := env.store.ListJobs(context.Background())
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected jobs wiped, got %d", len(jobs))
	}
}

func TestConfigShowCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCommand(t, env, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v (%s)", err, out)
	}
	if !strings.Contains(out, "[paths]") || !strings.Contains(out, "storage_root") {
		t.Fatalf("unexpected config output: %s", out)
	}
}
