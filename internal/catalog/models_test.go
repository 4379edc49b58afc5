package catalog_test

import (
	"testing"

	"github.com/marco-interact/colmap-mvp-sub000/internal/catalog"
)

func TestParseStatus(t *testing.T) {
	t.Parallel()

	status, ok := catalog.ParseStatus("  Sparse ")
	if !ok || status != catalog.StatusSparse {
		t.Fatalf("expected sparse, got %q (%v)", status, ok)
	}
	if _, ok := catalog.ParseStatus("bogus"); ok {
		t.Fatal("expected bogus status to fail")
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		from catalog.Status
		to   catalog.Status
		want bool
	}{
		{"forward stage", catalog.StatusPending, catalog.StatusExtracting, true},
		{"skip stage", catalog.StatusExtracting, catalog.StatusSparse, true},
		{"same status", catalog.StatusMatching, catalog.StatusMatching, true},
		{"backward", catalog.StatusSparse, catalog.StatusDetecting, false},
		{"fail from any", catalog.StatusDense, catalog.StatusFailed, true},
		{"cancel from pending", catalog.StatusPending, catalog.StatusCancelled, true},
		{"out of completed", catalog.StatusCompleted, catalog.StatusFailed, false},
		{"out of cancelled", catalog.StatusCancelled, catalog.StatusExtracting, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := catalog.CanTransition(tc.from, tc.to); got != tc.want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestStatusPredicates(t *testing.T) {
	t.Parallel()

	if !catalog.StatusFailed.IsTerminal() {
		t.Fatal("failed should be terminal")
	}
	if catalog.StatusMatching.IsTerminal() {
		t.Fatal("matching should not be terminal")
	}
	if !catalog.StatusMatching.IsProcessing() {
		t.Fatal("matching should be processing")
	}
	if catalog.StatusPending.IsProcessing() {
		t.Fatal("pending should not be processing")
	}
}

func TestSetProgressNeverRegresses(t *testing.T) {
	t.Parallel()

	job := &catalog.Job{}
	job.SetProgress("Matching Features", "pairwise matching", 45)
	job.SetProgress("Matching Features", "still matching", 30)
	if job.Progress != 45 {
		t.Fatalf("expected progress 45, got %f", job.Progress)
	}
	if job.Message != "still matching" {
		t.Fatalf("message should still update, got %q", job.Message)
	}
}
