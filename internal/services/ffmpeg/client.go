package ffmpeg

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

// Client wraps ffmpeg for frame extraction and thumbnail generation.
type Client struct {
	binary  string
	timeout time.Duration
	exec    Executor
}

// New constructs an ffmpeg client.
func New(binary string, timeoutSeconds int, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("ffmpeg binary required")
	}
	client := &Client{
		binary:  binary,
		timeout: time.Duration(timeoutSeconds) * time.Second,
		exec:    commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// ExtractFrames samples the video into numbered JPEG frames under frameDir,
// capped at params.MaxFrames and scaled per the quality preset. It returns
// the number of frames written.
func (c *Client) ExtractFrames(ctx context.Context, videoPath, frameDir string, params quality.Params) (int, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return 0, services.Wrap(services.ErrValidation, "ffmpeg", "extract-frames", "video not readable", err)
	}
	if err := os.MkdirAll(frameDir, 0o755); err != nil {
		return 0, fmt.Errorf("create frame dir: %w", err)
	}

	// Sample at 2 fps and let -frames:v enforce the preset cap. Ordered
	// frames matter downstream: sequential matching assumes temporal order.
	filter := "fps=2"
	if params.FrameScale != "" {
		filter += ",scale=" + params.FrameScale
	}
	args := []string{
		"-y",
		"-i", videoPath,
		"-vf", filter,
		"-frames:v", strconv.Itoa(params.MaxFrames),
		"-qscale:v", "2",
		filepath.Join(frameDir, "frame_%05d.jpg"),
	}
	if err := c.run(ctx, "extract-frames", args); err != nil {
		return 0, err
	}

	count, err := countFrames(frameDir)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, services.Wrap(services.ErrExternalTool, "ffmpeg", "extract-frames", "no frames produced; video may be corrupt", nil)
	}
	return count, nil
}

// Thumbnail writes a single representative frame for scan listings.
func (c *Client) Thumbnail(ctx context.Context, videoPath, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create thumbnail dir: %w", err)
	}
	args := []string{
		"-y",
		"-ss", "1",
		"-i", videoPath,
		"-vframes", "1",
		"-vf", "scale=640:-2",
		outputPath,
	}
	return c.run(ctx, "thumbnail", args)
}

func countFrames(frameDir string) (int, error) {
	entries, err := os.ReadDir(frameDir)
	if err != nil {
		return 0, fmt.Errorf("read frame dir: %w", err)
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if strings.HasPrefix(name, "frame_") && strings.HasSuffix(name, ".jpg") {
			count++
		}
	}
	return count, nil
}

func (c *Client) run(ctx context.Context, operation string, args []string) error {
	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var tail []string
	var mu sync.Mutex
	err := c.exec.Run(runCtx, c.binary, args, func(line string) {
		line = strings.TrimSpace(line)
		if line == "" {
			return
		}
		mu.Lock()
		tail = append(tail, line)
		if len(tail) > 10 {
			tail = tail[len(tail)-10:]
		}
		mu.Unlock()
	})
	if err == nil {
		return nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "ffmpeg", operation,
			fmt.Sprintf("timed out after %s", c.timeout), err)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	message := "ffmpeg failed"
	mu.Lock()
	if len(tail) > 0 {
		message += ": " + strings.Join(tail, " | ")
	}
	mu.Unlock()
	return services.Wrap(services.ErrExternalTool, "ffmpeg", operation, message, err)
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
