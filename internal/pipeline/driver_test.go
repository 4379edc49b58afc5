package pipeline_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/marco-interact/colmap-mvp-sub000/internal/catalog"
	"github.com/marco-interact/colmap-mvp-sub000/internal/config"
	"github.com/marco-interact/colmap-mvp-sub000/internal/logging"
	"github.com/marco-interact/colmap-mvp-sub000/internal/pipeline"
	"github.com/marco-interact/colmap-mvp-sub000/internal/quality"
	"github.com/marco-interact/colmap-mvp-sub000/internal/sparse"
	"github.com/marco-interact/colmap-mvp-sub000/internal/testsupport"
)

type fakeFrames struct {
	frameCount int
	err        error
}

func (f *fakeFrames) ExtractFrames(ctx context.Context, videoPath, frameDir string, params quality.Params) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if err := os.MkdirAll(frameDir, 0o755); err != nil {
		return 0, err
	}
	for i := 1; i <= f.frameCount; i++ {
		name := filepath.Join(frameDir, fmt.Sprintf("frame_%05d.jpg", i))
		if err := os.WriteFile(name, []byte{0xff, 0xd8}, 0o644); err != nil {
			return 0, err
		}
	}
	return f.frameCount, nil
}

func (f *fakeFrames) Thumbnail(ctx context.Context, videoPath, outputPath string) error {
	return os.WriteFile(outputPath, []byte{0xff, 0xd8}, 0o644)
}

type fakeRecon struct {
	calls      []string
	failOn     string
	failErr    error
	cancelOn   string
	cancelFn   context.CancelFunc
	registered int
	points     int
}

func (f *fakeRecon) step(ctx context.Context, name string) error {
	f.calls = append(f.calls, name)
	if f.cancelOn == name && f.cancelFn != nil {
		f.cancelFn()
		<-ctx.Done()
		return ctx.Err()
	}
	if f.failOn == name {
		if f.failErr != nil {
			return f.failErr
		}
		return errors.New(name + " exploded")
	}
	return nil
}

func (f *fakeRecon) ExtractFeatures(ctx context.Context, dbPath, imageDir string, params quality.Params) error {
	if err := f.step(ctx, "extract-features"); err != nil {
		return err
	}
	return writeFeatureDatabase(dbPath)
}

func (f *fakeRecon) MatchFeatures(ctx context.Context, dbPath string, params quality.Params) error {
	return f.step(ctx, "match-features")
}

func (f *fakeRecon) MapSparse(ctx context.Context, dbPath, imageDir, outputDir string, params quality.Params) error {
	if err := f.step(ctx, "map-sparse"); err != nil {
		return err
	}
	registered := f.registered
	if registered == 0 {
		registered = 3
	}
	points := f.points
	if points == 0 {
		points = 5
	}
	return writeSparseModel(filepath.Join(outputDir, "0"), registered, points)
}

func (f *fakeRecon) UndistortImages(ctx context.Context, imageDir, sparseModelDir, denseDir string) error {
	return f.step(ctx, "undistort")
}

func (f *fakeRecon) PatchMatchStereo(ctx context.Context, denseDir string) error {
	return f.step(ctx, "patch-match")
}

func (f *fakeRecon) StereoFusion(ctx context.Context, denseDir, outputPath string) error {
	return f.step(ctx, "fusion")
}

func (f *fakeRecon) ConvertModel(ctx context.Context, inputDir, outputPath, outputType string) error {
	if err := f.step(ctx, "convert"); err != nil {
		return err
	}
	return os.WriteFile(outputPath, []byte("ply\n"), 0o644)
}

func writeFeatureDatabase(dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cameras (camera_id INTEGER PRIMARY KEY, model INTEGER, width INTEGER, height INTEGER, params BLOB)`,
		`CREATE TABLE IF NOT EXISTS images (image_id INTEGER PRIMARY KEY, name TEXT, camera_id INTEGER)`,
		`CREATE TABLE IF NOT EXISTS keypoints (image_id INTEGER PRIMARY KEY, rows INTEGER, cols INTEGER, data BLOB)`,
		`CREATE TABLE IF NOT EXISTS descriptors (image_id INTEGER PRIMARY KEY, rows INTEGER, cols INTEGER, data BLOB)`,
		`CREATE TABLE IF NOT EXISTS matches (pair_id INTEGER PRIMARY KEY, rows INTEGER, cols INTEGER, data BLOB)`,
		`CREATE TABLE IF NOT EXISTS two_view_geometries (pair_id INTEGER PRIMARY KEY, rows INTEGER, cols INTEGER, data BLOB, config INTEGER)`,
		`INSERT INTO cameras VALUES (1, 2, 1920, 1080, x'00')`,
		`INSERT INTO images VALUES (1, 'frame_00001.jpg', 1)`,
		`INSERT INTO images VALUES (2, 'frame_00002.jpg', 1)`,
		`INSERT INTO keypoints VALUES (1, 900, 6, x'00')`,
		`INSERT INTO keypoints VALUES (2, 850, 6, x'00')`,
		`INSERT INTO matches VALUES (2147483649, 300, 2, x'00')`,
		`INSERT INTO two_view_geometries VALUES (2147483649, 250, 2, x'00', 2)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func writeSparseModel(dir string, registered, points int) error {
	model := sparse.NewModel()
	model.Cameras[1] = sparse.Camera{
		ID: 1, Model: sparse.SimpleRadial, Width: 1920, Height: 1080,
		Params: []float64{1600, 960, 540, 0},
	}
	for i := 1; i <= registered; i++ {
		model.Images[uint32(i)] = sparse.Image{
			ID:       uint32(i),
			QVec:     [4]float64{1, 0, 0, 0},
			CameraID: 1,
			Name:     fmt.Sprintf("frame_%05d.jpg", i),
		}
	}
	for i := 1; i <= points; i++ {
		model.Points3D[uint64(i)] = sparse.Point3D{
			ID:    uint64(i),
			XYZ:   [3]float64{float64(i), 0, 1},
			RGB:   [3]uint8{128, 128, 128},
			Error: 0.5,
			Track: []sparse.TrackElement{{ImageID: 1, Point2DIdx: 0}},
		}
	}
	return sparse.WriteBinaryModel(dir, model)
}

type fixture struct {
	cfg    *config.Config
	store  *catalog.Store
	driver *pipeline.Driver
	recon  *fakeRecon
	job    *catalog.Job
}

func newFixture(t *testing.T, tier quality.Tier, presetName string, recon *fakeRecon) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	scan := testsupport.NewScan(t, store, "Pipeline Project", "Pipeline Scan")
	videoPath := filepath.Join(testsupport.BaseDir(cfg), "input.mp4")
	testsupport.WriteFile(t, videoPath, 2048)
	job, err := store.CreateJob(context.Background(), scan.ID, presetName, videoPath)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	driver := pipeline.New(cfg, store, &fakeFrames{frameCount: 4}, recon, tier, logging.NewNop())
	return &fixture{cfg: cfg, store: store, driver: driver, recon: recon, job: job}
}

func TestRunCompletesSparseJob(t *testing.T) {
	t.Parallel()

	recon := &fakeRecon{registered: 3, points: 7}
	fx := newFixture(t, quality.TierCPU, "medium", recon)

	if err := fx.driver.Run(context.Background(), fx.job.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	job, err := fx.store.GetJob(context.Background(), fx.job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != catalog.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", job.Status, job.ErrorMessage)
	}
	if job.Progress != 100 {
		t.Fatalf("expected progress 100, got %f", job.Progress)
	}

	// CPU tier never runs the dense stages.
	for _, call := range recon.calls {
		if call == "undistort" || call == "patch-match" || call == "fusion" {
			t.Fatalf("dense stage %s ran on cpu tier", call)
		}
	}

	details, err := fx.store.GetTechnicalDetails(context.Background(), fx.job.ScanID)
	if err != nil {
		t.Fatalf("GetTechnicalDetails: %v", err)
	}
	if details == nil {
		t.Fatal("expected technical details")
	}
	if details.PointCount != 7 || details.CameraCount != 3 {
		t.Fatalf("unexpected details: %+v", details)
	}
	if details.FeatureCount != 1750 {
		t.Fatalf("expected feature count 1750, got %d", details.FeatureCount)
	}
	if details.CoveragePercentage != 75 {
		t.Fatalf("expected coverage 75 (3 of 4 frames), got %f", details.CoveragePercentage)
	}

	scan, err := fx.store.GetScan(context.Background(), fx.job.ScanID)
	if err != nil {
		t.Fatalf("GetScan: %v", err)
	}
	if scan.Status != "completed" {
		t.Fatalf("expected completed scan, got %s", scan.Status)
	}
}

func TestRunGPUHighRunsDenseStages(t *testing.T) {
	t.Parallel()

	recon := &fakeRecon{}
	fx := newFixture(t, quality.TierGPU, "high", recon)

	if err := fx.driver.Run(context.Background(), fx.job.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"extract-features", "match-features", "map-sparse", "undistort", "patch-match", "fusion", "convert"}
	if len(recon.calls) != len(want) {
		t.Fatalf("calls %v, want %v", recon.calls, want)
	}
	for i, call := range want {
		if recon.calls[i] != call {
			t.Fatalf("call %d = %s, want %s", i, recon.calls[i], call)
		}
	}
}

func TestRunStageFailureMarksJobFailed(t *testing.T) {
	t.Parallel()

	recon := &fakeRecon{failOn: "match-features"}
	fx := newFixture(t, quality.TierCPU, "low", recon)

	err := fx.driver.Run(context.Background(), fx.job.ID)
	if err == nil {
		t.Fatal("expected failure")
	}

	job, getErr := fx.store.GetJob(context.Background(), fx.job.ID)
	if getErr != nil {
		t.Fatalf("GetJob: %v", getErr)
	}
	if job.Status != catalog.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if !strings.HasPrefix(job.ErrorMessage, "feature matching failed") {
		t.Fatalf("unexpected error message %q", job.ErrorMessage)
	}
	if job.ErrorMessage == "" {
		t.Fatal("terminal failure must carry a message")
	}
}

func TestRunCancellationMarksJobCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recon := &fakeRecon{cancelOn: "map-sparse", cancelFn: cancel}
	fx := newFixture(t, quality.TierCPU, "medium", recon)

	err := fx.driver.Run(ctx, fx.job.ID)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	job, getErr := fx.store.GetJob(context.Background(), fx.job.ID)
	if getErr != nil {
		t.Fatalf("GetJob: %v", getErr)
	}
	if job.Status != catalog.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", job.Status)
	}
	if job.Message != catalog.CancelledReason {
		t.Fatalf("expected cancelled reason, got %q", job.Message)
	}
}

func TestExportModelFormats(t *testing.T) {
	t.Parallel()

	recon := &fakeRecon{}
	fx := newFixture(t, quality.TierCPU, "medium", recon)
	if err := fx.driver.Run(context.Background(), fx.job.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, format := range []sparse.Format{sparse.FormatPLY, sparse.FormatNVM, sparse.FormatText} {
		path, err := fx.driver.ExportModel(context.Background(), fx.job.ID, format)
		if err != nil {
			t.Fatalf("ExportModel(%s): %v", format, err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("export artifact missing for %s: %v", format, err)
		}
	}

	// Exports never touch the canonical sparse model.
	canonical := filepath.Join(fx.cfg.JobDir(fx.job.ID), "sparse", "0", "points3D.bin")
	if _, err := os.Stat(canonical); err != nil {
		t.Fatalf("canonical model disturbed: %v", err)
	}
}

func TestExportModelRequiresCompletedJob(t *testing.T) {
	t.Parallel()

	recon := &fakeRecon{}
	fx := newFixture(t, quality.TierCPU, "medium", recon)

	_, err := fx.driver.ExportModel(context.Background(), fx.job.ID, sparse.FormatPLY)
	if err == nil {
		t.Fatal("expected error for pending job")
	}
}

func TestRecomputeDetailsRepairsMissingMetrics(t *testing.T) {
	t.Parallel()

	recon := &fakeRecon{}
	fx := newFixture(t, quality.TierCPU, "medium", recon)

	// Build the artifacts by hand and complete the job without a details
	// write, mimicking a crash between completion and the metrics insert.
	artifactsDir := fx.cfg.JobDir(fx.job.ID)
	frames := &fakeFrames{frameCount: 4}
	if _, err := frames.ExtractFrames(context.Background(), "", filepath.Join(artifactsDir, "frames"), quality.Params{}); err != nil {
		t.Fatalf("seed frames: %v", err)
	}
	if err := writeFeatureDatabase(filepath.Join(artifactsDir, "database.db")); err != nil {
		t.Fatalf("seed database: %v", err)
	}
	if err := writeSparseModel(filepath.Join(artifactsDir, "sparse", "0"), 2, 4); err != nil {
		t.Fatalf("seed model: %v", err)
	}

	job := fx.job
	job.Status = catalog.StatusCompleted
	job.SetProgress("Completed", "reconstruction complete", 100)
	if err := fx.store.UpdateJob(context.Background(), job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	details, err := fx.driver.RecomputeDetails(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("RecomputeDetails: %v", err)
	}
	if details == nil || details.PointCount != 4 || details.CameraCount != 2 {
		t.Fatalf("unexpected details: %+v", details)
	}
}

func TestRunFrameExtractionFailure(t *testing.T) {
	t.Parallel()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	scan := testsupport.NewScan(t, store, "Broken Video Project", "Broken Scan")
	videoPath := filepath.Join(testsupport.BaseDir(cfg), "broken.mp4")
	testsupport.WriteFile(t, videoPath, 64)
	job, err := store.CreateJob(context.Background(), scan.ID, "low", videoPath)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	frames := &fakeFrames{err: errors.New("moov atom not found")}
	driver := pipeline.New(cfg, store, frames, &fakeRecon{}, quality.TierCPU, logging.NewNop())

	if err := driver.Run(context.Background(), job.ID); err == nil {
		t.Fatal("expected failure")
	}

	failed, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if failed.Status != catalog.StatusFailed {
		t.Fatalf("expected failed, got %s", failed.Status)
	}
	if !strings.HasPrefix(failed.ErrorMessage, "frame extraction failed") {
		t.Fatalf("unexpected error message %q", failed.ErrorMessage)
	}
}
