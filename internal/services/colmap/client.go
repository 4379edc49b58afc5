package colmap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/marco-interact/colmap-mvp-sub000/internal/quality"
	"github.com/marco-interact/colmap-mvp-sub000/internal/services"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onOutput func(string)) error
}

// StageTimeouts carries the per-stage subprocess limits.
type StageTimeouts struct {
	Detect time.Duration
	Match  time.Duration
	Sparse time.Duration
	Dense  time.Duration
	Export time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps COLMAP CLI interactions. Every method runs one COLMAP
// subcommand under its stage timeout and surfaces failures through the
// services error markers.
type Client struct {
	binary   string
	timeouts StageTimeouts
	exec     Executor
}

// New constructs a COLMAP client.
func New(binary string, timeouts StageTimeouts, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("colmap binary required")
	}
	client := &Client{
		binary:   binary,
		timeouts: timeouts,
		exec:     commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// ExtractFeatures runs SIFT feature extraction over the frame directory,
// populating the feature database.
func (c *Client) ExtractFeatures(ctx context.Context, dbPath, imageDir string, params quality.Params) error {
	args := []string{
		"feature_extractor",
		"--database_path", dbPath,
		"--image_path", imageDir,
		"--ImageReader.single_camera", "1",
		"--ImageReader.camera_model", "SIMPLE_RADIAL",
		"--SiftExtraction.max_image_size", strconv.Itoa(params.MaxImageSize),
		"--SiftExtraction.max_num_features", strconv.Itoa(params.MaxFeatureCount),
		"--SiftExtraction.num_threads", strconv.Itoa(params.NumThreads),
	}
	if params.Tier == quality.TierGPU {
		args = append(args, "--SiftExtraction.use_gpu", "1")
	} else {
		args = append(args, "--SiftExtraction.use_gpu", "0")
	}
	return c.run(ctx, "extract-features", c.timeouts.Detect, args)
}

// MatchFeatures runs sequential matching, suited to ordered video frames.
func (c *Client) MatchFeatures(ctx context.Context, dbPath string, params quality.Params) error {
	args := []string{
		"sequential_matcher",
		"--database_path", dbPath,
		"--SiftMatching.max_num_matches", strconv.Itoa(params.MaxMatchCount),
		"--SequentialMatching.overlap", "10",
		"--SequentialMatching.loop_detection", "0",
	}
	if params.Tier == quality.TierGPU {
		args = append(args, "--SiftMatching.use_gpu", "1")
	} else {
		args = append(args, "--SiftMatching.use_gpu", "0")
	}
	return c.run(ctx, "match-features", c.timeouts.Match, args)
}

// MapSparse runs incremental structure-from-motion, writing one or more
// numbered model directories under outputDir.
func (c *Client) MapSparse(ctx context.Context, dbPath, imageDir, outputDir string, params quality.Params) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create sparse dir: %w", err)
	}
	args := []string{
		"mapper",
		"--database_path", dbPath,
		"--image_path", imageDir,
		"--output_path", outputDir,
		"--Mapper.num_threads", strconv.Itoa(params.NumThreads),
		"--Mapper.ba_global_function_tolerance", "0.000001",
	}
	return c.run(ctx, "map-sparse", c.timeouts.Sparse, args)
}

// UndistortImages prepares a dense workspace from a sparse model.
func (c *Client) UndistortImages(ctx context.Context, imageDir, sparseModelDir, denseDir string) error {
	if err := os.MkdirAll(denseDir, 0o755); err != nil {
		return fmt.Errorf("create dense dir: %w", err)
	}
	args := []string{
		"image_undistorter",
		"--image_path", imageDir,
		"--input_path", sparseModelDir,
		"--output_path", denseDir,
		"--output_type", "COLMAP",
	}
	return c.run(ctx, "undistort-images", c.timeouts.Dense, args)
}

// PatchMatchStereo computes depth maps for the dense workspace.
func (c *Client) PatchMatchStereo(ctx context.Context, denseDir string) error {
	args := []string{
		"patch_match_stereo",
		"--workspace_path", denseDir,
		"--workspace_format", "COLMAP",
		"--PatchMatchStereo.geom_consistency", "true",
	}
	return c.run(ctx, "patch-match-stereo", c.timeouts.Dense, args)
}

// StereoFusion fuses depth maps into a dense point cloud PLY.
func (c *Client) StereoFusion(ctx context.Context, denseDir, outputPath string) error {
	args := []string{
		"stereo_fusion",
		"--workspace_path", denseDir,
		"--workspace_format", "COLMAP",
		"--input_type", "geometric",
		"--output_path", outputPath,
	}
	return c.run(ctx, "stereo-fusion", c.timeouts.Dense, args)
}

// ConvertModel converts a sparse model directory to another on-disk format.
// The outputType mirrors COLMAP's model_converter values (PLY, TXT, BIN).
func (c *Client) ConvertModel(ctx context.Context, inputDir, outputPath, outputType string) error {
	args := []string{
		"model_converter",
		"--input_path", inputDir,
		"--output_path", outputPath,
		"--output_type", outputType,
	}
	return c.run(ctx, "convert-model", c.timeouts.Export, args)
}

// SelectBestModel picks the canonical reconstruction among the numbered model
// directories the mapper produced: the model registering the most images,
// breaking ties by point count.
func SelectBestModel(sparseDir string) (string, error) {
	entries, err := os.ReadDir(sparseDir)
	if err != nil {
		return "", services.Wrap(services.ErrNotFound, "colmap", "select-model", "read sparse directory", err)
	}

	bestPath := ""
	bestImages := int64(-1)
	bestPoints := int64(-1)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		modelDir := filepath.Join(sparseDir, entry.Name())
		images, points, ok := modelSize(modelDir)
		if !ok {
			continue
		}
		if images > bestImages || (images == bestImages && points > bestPoints) {
			bestPath = modelDir
			bestImages = images
			bestPoints = points
		}
	}
	if bestPath == "" {
		return "", services.Wrap(services.ErrExternalTool, "colmap", "select-model", "mapper produced no usable model", nil)
	}
	return bestPath, nil
}

// modelSize reads the file sizes of a model directory as a cheap proxy for
// registered images and point count. Exact counts come later from the binary
// model reader; this only has to order candidate models consistently.
func modelSize(modelDir string) (images, points int64, ok bool) {
	imagesInfo, err := os.Stat(filepath.Join(modelDir, "images.bin"))
	if err != nil {
		return 0, 0, false
	}
	pointsInfo, err := os.Stat(filepath.Join(modelDir, "points3D.bin"))
	if err != nil {
		return 0, 0, false
	}
	if _, err := os.Stat(filepath.Join(modelDir, "cameras.bin")); err != nil {
		return 0, 0, false
	}
	return imagesInfo.Size(), pointsInfo.Size(), true
}

func (c *Client) run(ctx context.Context, operation string, timeout time.Duration, args []string) error {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tail := newOutputTail(20)
	err := c.exec.Run(runCtx, c.binary, args, tail.Append)
	if err == nil {
		return nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "colmap", operation,
			fmt.Sprintf("timed out after %s", timeout), err)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	message := "colmap " + args[0] + " failed"
	if excerpt := tail.String(); excerpt != "" {
		message += ": " + excerpt
	}
	return services.Wrap(services.ErrExternalTool, "colmap", operation, message, err)
}

// outputTail keeps the last N lines of subprocess output for error reporting.
type outputTail struct {
	mu    sync.Mutex
	limit int
	lines []string
}

func newOutputTail(limit int) *outputTail {
	return &outputTail{limit: limit}
}

func (t *outputTail) Append(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.limit {
		t.lines = t.lines[len(t.lines)-t.limit:]
	}
}

func (t *outputTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, " | ")
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once

	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if onOutput != nil {
				onOutput(scanner.Text())
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return err
	}
	return scanErr
}
