package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/marco-interact/colmap-mvp-sub000/internal/catalog"
	"github.com/marco-interact/colmap-mvp-sub000/internal/config"
	"github.com/marco-interact/colmap-mvp-sub000/internal/featuredb"
	"github.com/marco-interact/colmap-mvp-sub000/internal/logging"
	"github.com/marco-interact/colmap-mvp-sub000/internal/quality"
	"github.com/marco-interact/colmap-mvp-sub000/internal/services"
	"github.com/marco-interact/colmap-mvp-sub000/internal/services/colmap"
	"github.com/marco-interact/colmap-mvp-sub000/internal/sparse"
)

// FrameExtractor samples video into frames and captures a thumbnail.
type FrameExtractor interface {
	ExtractFrames(ctx context.Context, videoPath, frameDir string, params quality.Params) (int, error)
	Thumbnail(ctx context.Context, videoPath, outputPath string) error
}

// Reconstructor runs the COLMAP reconstruction stages.
type Reconstructor interface {
	ExtractFeatures(ctx context.Context, dbPath, imageDir string, params quality.Params) error
	MatchFeatures(ctx context.Context, dbPath string, params quality.Params) error
	MapSparse(ctx context.Context, dbPath, imageDir, outputDir string, params quality.Params) error
	UndistortImages(ctx context.Context, imageDir, sparseModelDir, denseDir string) error
	PatchMatchStereo(ctx context.Context, denseDir string) error
	StereoFusion(ctx context.Context, denseDir, outputPath string) error
	ConvertModel(ctx context.Context, inputDir, outputPath, outputType string) error
}

// Driver executes the reconstruction pipeline for admitted jobs and records
// every state change in the catalog.
type Driver struct {
	cfg    *config.Config
	store  *catalog.Store
	frames FrameExtractor
	recon  Reconstructor
	tier   quality.Tier
	logger *slog.Logger
}

// New builds a pipeline driver.
func New(cfg *config.Config, store *catalog.Store, frames FrameExtractor, recon Reconstructor, tier quality.Tier, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Driver{
		cfg:    cfg,
		store:  store,
		frames: frames,
		recon:  recon,
		tier:   tier,
		logger: logger,
	}
}

// stageWeights maps each stage to its cumulative progress boundary.
type stageWeights struct {
	extract, detect, match, sparse, dense, export float64
}

func weightsFor(dense bool) stageWeights {
	if dense {
		return stageWeights{extract: 5, detect: 15, match: 40, sparse: 65, dense: 85, export: 100}
	}
	return stageWeights{extract: 5, detect: 20, match: 50, sparse: 80, dense: 0, export: 100}
}

// Run drives one job through the full stage sequence. A context cancellation
// marks the job cancelled; any other failure marks it failed with the stage's
// error summary. The returned error reflects the failure, if any.
func (d *Driver) Run(ctx context.Context, jobID string) error {
	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", jobID)
	}

	logger := logging.WithContext(ctx, d.logger.With(logging.String(logging.FieldComponent, "pipeline")))
	started := time.Now()

	preset, err := quality.Parse(job.Quality)
	if err != nil {
		return d.fail(ctx, job, "invalid quality preset: "+job.Quality)
	}
	params := quality.Resolve(preset, d.tier, 0)
	weights := weightsFor(params.DenseEnabled)
	artifacts := NewArtifacts(d.cfg.JobDir(jobID))

	logger.Info("pipeline started",
		logging.String("preset", string(preset)),
		logging.String("tier", string(d.tier)),
		logging.Bool("dense", params.DenseEnabled))

	if err := os.MkdirAll(artifacts.Root, 0o755); err != nil {
		return d.fail(ctx, job, "create job directory: "+err.Error())
	}

	// Extract frames.
	if err := d.advance(ctx, job, catalog.StatusExtracting, "Extracting Frames", "sampling video frames", 0); err != nil {
		return err
	}
	frameCount, err := d.frames.ExtractFrames(ctx, job.VideoPath, artifacts.FrameDir(), params)
	if err != nil {
		return d.failStage(ctx, job, "frame extraction failed", err)
	}
	if err := d.frames.Thumbnail(ctx, job.VideoPath, artifacts.ThumbnailPath()); err != nil {
		// A missing thumbnail never fails the job.
		logger.Warn("thumbnail capture failed", logging.Error(err))
	}
	logger.Info("frames extracted", logging.Int("frames", frameCount))

	// Detect features.
	if err := d.advance(ctx, job, catalog.StatusDetecting, "Detecting Features", "running feature extraction", weights.extract); err != nil {
		return err
	}
	if err := d.recon.ExtractFeatures(ctx, artifacts.DatabasePath(), artifacts.FrameDir(), params); err != nil {
		return d.failStage(ctx, job, "feature detection failed", err)
	}

	// Match features.
	if err := d.advance(ctx, job, catalog.StatusMatching, "Matching Features", "matching sequential frames", weights.detect); err != nil {
		return err
	}
	if err := d.recon.MatchFeatures(ctx, artifacts.DatabasePath(), params); err != nil {
		return d.failStage(ctx, job, "feature matching failed", err)
	}

	// Sparse reconstruction.
	if err := d.advance(ctx, job, catalog.StatusSparse, "Sparse Reconstruction", "running incremental mapping", weights.match); err != nil {
		return err
	}
	if err := d.recon.MapSparse(ctx, artifacts.DatabasePath(), artifacts.FrameDir(), artifacts.SparseDir(), params); err != nil {
		return d.failStage(ctx, job, "sparse reconstruction failed", err)
	}
	bestModel, err := colmap.SelectBestModel(artifacts.SparseDir())
	if err != nil {
		return d.failStage(ctx, job, "sparse reconstruction failed", err)
	}

	// Dense reconstruction (GPU tier, medium/high presets only).
	if params.DenseEnabled {
		if err := d.advance(ctx, job, catalog.StatusDense, "Dense Reconstruction", "computing dense point cloud", weights.sparse); err != nil {
			return err
		}
		if err := d.recon.UndistortImages(ctx, artifacts.FrameDir(), bestModel, artifacts.DenseDir()); err != nil {
			return d.failStage(ctx, job, "dense reconstruction failed", err)
		}
		if err := d.recon.PatchMatchStereo(ctx, artifacts.DenseDir()); err != nil {
			return d.failStage(ctx, job, "dense reconstruction failed", err)
		}
		if err := d.recon.StereoFusion(ctx, artifacts.DenseDir(), artifacts.DensePointCloudPath()); err != nil {
			return d.failStage(ctx, job, "dense reconstruction failed", err)
		}
	}

	// Export deliverables.
	exportFrom := weights.sparse
	if params.DenseEnabled {
		exportFrom = weights.dense
	}
	if err := d.advance(ctx, job, catalog.StatusExporting, "Exporting Model", "writing point cloud deliverable", exportFrom); err != nil {
		return err
	}
	if err := d.recon.ConvertModel(ctx, bestModel, artifacts.PointCloudPath(), "PLY"); err != nil {
		return d.failStage(ctx, job, "model export failed", err)
	}

	// Completion. The metrics write happens after the job is completed; a
	// failed write leaves the job completed with null details, repairable
	// via RecomputeDetails.
	job.Status = catalog.StatusCompleted
	job.SetProgress("Completed", "reconstruction complete", 100)
	job.ErrorMessage = ""
	if err := d.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	logger.Info("pipeline completed", logging.Duration("elapsed", time.Since(started)))

	if err := d.writeDetails(ctx, job, artifacts, bestModel, frameCount, time.Since(started)); err != nil {
		logger.Warn("technical details write failed", logging.Error(err))
	}
	return nil
}

// RecomputeDetails rebuilds the technical details for a completed job whose
// metrics write failed. It refuses jobs that are not completed.
func (d *Driver) RecomputeDetails(ctx context.Context, jobID string) (*catalog.TechnicalDetails, error) {
	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "recompute-details", "job not found", nil)
	}
	if job.Status != catalog.StatusCompleted {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "recompute-details",
			"job is not completed", nil)
	}

	artifacts := NewArtifacts(d.cfg.JobDir(jobID))
	bestModel, err := colmap.SelectBestModel(artifacts.SparseDir())
	if err != nil {
		return nil, err
	}
	frameCount, err := countDirEntries(artifacts.FrameDir())
	if err != nil {
		return nil, err
	}
	if err := d.writeDetails(ctx, job, artifacts, bestModel, frameCount, 0); err != nil {
		return nil, err
	}
	return d.store.GetTechnicalDetails(ctx, job.ScanID)
}

// ExportModel converts the job's canonical sparse model into the requested
// format under the job's exports directory, returning the artifact path.
// Canonical artifacts are never modified.
func (d *Driver) ExportModel(ctx context.Context, jobID string, format sparse.Format) (string, error) {
	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", services.Wrap(services.ErrNotFound, "pipeline", "export-model", "job not found", nil)
	}
	if job.Status != catalog.StatusCompleted {
		return "", services.Wrap(services.ErrValidation, "pipeline", "export-model",
			"job has no completed reconstruction", nil)
	}

	artifacts := NewArtifacts(d.cfg.JobDir(jobID))
	bestModel, err := colmap.SelectBestModel(artifacts.SparseDir())
	if err != nil {
		return "", err
	}
	model, err := sparse.ReadBinaryModel(bestModel)
	if err != nil {
		return "", err
	}

	var dest string
	switch format {
	case sparse.FormatBinary:
		dest = filepath.Join(artifacts.ExportDir(), "model-bin")
	case sparse.FormatText:
		dest = filepath.Join(artifacts.ExportDir(), "model-txt")
	case sparse.FormatPLY:
		dest = filepath.Join(artifacts.ExportDir(), "model.ply")
	case sparse.FormatNVM:
		dest = filepath.Join(artifacts.ExportDir(), "model.nvm")
	default:
		return "", services.Wrap(services.ErrUnsupportedFormat, "pipeline", "export-model",
			"unknown export format", nil)
	}
	return sparse.Export(model, format, dest)
}

func (d *Driver) writeDetails(ctx context.Context, job *catalog.Job, artifacts Artifacts, bestModel string, frameCount int, elapsed time.Duration) error {
	model, err := sparse.ReadBinaryModel(bestModel)
	if err != nil {
		return err
	}
	stats, err := featuredb.Inspect(ctx, artifacts.DatabasePath())
	if err != nil {
		return err
	}

	coverage := 0.0
	if frameCount > 0 {
		coverage = float64(len(model.Images)) / float64(frameCount) * 100
	}
	details := &catalog.TechnicalDetails{
		ScanID:                job.ScanID,
		PointCount:            int64(len(model.Points3D)),
		CameraCount:           int64(len(model.Images)),
		FeatureCount:          stats.FeatureCount,
		MatchCount:            stats.MatchCount,
		VerifiedCount:         stats.VerifiedCount,
		ReconstructionError:   model.MeanReprojectionError(),
		CoveragePercentage:    coverage,
		ProcessingTimeSeconds: elapsed.Seconds(),
		PointCloudURI:         artifacts.PointCloudPath(),
		SparseModelURI:        bestModel,
		ThumbnailURI:          thumbnailIfPresent(artifacts),
	}
	return d.store.SaveTechnicalDetails(ctx, details)
}

func (d *Driver) advance(ctx context.Context, job *catalog.Job, status catalog.Status, stage, message string, progress float64) error {
	if err := ctx.Err(); err != nil {
		return d.cancel(job)
	}
	job.Status = status
	job.SetProgress(stage, message, progress)
	return d.store.UpdateJob(ctx, job)
}

func (d *Driver) failStage(ctx context.Context, job *catalog.Job, prefix string, cause error) error {
	if errors.Is(cause, context.Canceled) || ctx.Err() != nil {
		return d.cancel(job)
	}
	return d.fail(ctx, job, prefix+": "+cause.Error())
}

func (d *Driver) fail(ctx context.Context, job *catalog.Job, message string) error {
	job.SetFailed(message)
	if err := d.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	return errors.New(message)
}

// cancel records the cancelled terminal state. The store write uses a fresh
// context: the job's own context is already dead.
func (d *Driver) cancel(job *catalog.Job) error {
	job.Status = catalog.StatusCancelled
	job.Message = catalog.CancelledReason
	job.ErrorMessage = catalog.CancelledReason
	job.CurrentStage = "Cancelled"
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.store.UpdateJob(writeCtx, job); err != nil {
		return err
	}
	return context.Canceled
}

func thumbnailIfPresent(artifacts Artifacts) string {
	if _, err := os.Stat(artifacts.ThumbnailPath()); err != nil {
		return ""
	}
	return artifacts.ThumbnailPath()
}

func countDirEntries(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read frame dir: %w", err)
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			count++
		}
	}
	return count, nil
}
