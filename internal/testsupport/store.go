package testsupport

import (
	"context"
	"testing"

	"github.com/marco-interact/colmap-mvp-sub000/internal/catalog"
	"github.com/marco-interact/colmap-mvp-sub000/internal/config"
)

// MustOpenStore opens a catalog.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(cfg)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewScan creates a project with one scan for tests using the provided store.
func NewScan(t testing.TB, store *catalog.Store, projectName, scanName string) *catalog.Scan {
	t.Helper()

	project, err := store.CreateProject(context.Background(), projectName, "", "")
	if err != nil {
		t.Fatalf("store.CreateProject: %v", err)
	}
	scan, err := store.CreateScan(context.Background(), project.ID, scanName, "video.mp4", 1024, "medium")
	if err != nil {
		t.Fatalf("store.CreateScan: %v", err)
	}
	return scan
}

// NewJob creates a pending job under a fresh scan.
func NewJob(t testing.TB, store *catalog.Store, quality string) *catalog.Job {
	t.Helper()

	scan := NewScan(t, store, "Test Project", "Test Scan")
	job, err := store.CreateJob(context.Background(), scan.ID, quality, "/tmp/video.mp4")
	if err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	return job
}
