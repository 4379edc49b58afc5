package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/marco-interact/colmap-mvp-sub000/internal/api"
	"github.com/marco-interact/colmap-mvp-sub000/internal/catalog"
	"github.com/marco-interact/colmap-mvp-sub000/internal/config"
	"github.com/marco-interact/colmap-mvp-sub000/internal/governor"
	"github.com/marco-interact/colmap-mvp-sub000/internal/logging"
	"github.com/marco-interact/colmap-mvp-sub000/internal/pipeline"
	"github.com/marco-interact/colmap-mvp-sub000/internal/quality"
	"github.com/marco-interact/colmap-mvp-sub000/internal/services/colmap"
	"github.com/marco-interact/colmap-mvp-sub000/internal/services/ffmpeg"
)

// shutdownTimeout bounds how long Stop waits for in-flight HTTP requests.
const shutdownTimeout = 10 * time.Second

// Daemon coordinates the reconstruction services and enforces single-instance
// execution via a lock file under the storage root.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *catalog.Store

	prober governor.Prober
	frames pipeline.FrameExtractor
	recon  pipeline.Reconstructor

	lockPath string
	lock     *flock.Flock

	tier     quality.Tier
	gov      *governor.Governor
	driver   *pipeline.Driver
	server   *api.Server
	listener net.Listener

	serverErr chan error
	running   atomic.Bool
	cancel    context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Tier         quality.Tier
	ActiveJobs   int
	QueuedJobs   int
	Jobs         catalog.Stats
	CatalogPath  string
	LockFilePath string
}

// Option adjusts daemon construction, primarily for tests.
type Option func(*Daemon)

// WithProber overrides compute tier detection.
func WithProber(p governor.Prober) Option {
	return func(d *Daemon) {
		if p != nil {
			d.prober = p
		}
	}
}

// WithFrameExtractor overrides the frame extraction client.
func WithFrameExtractor(f pipeline.FrameExtractor) Option {
	return func(d *Daemon) {
		if f != nil {
			d.frames = f
		}
	}
}

// WithReconstructor overrides the reconstruction client.
func WithReconstructor(r pipeline.Reconstructor) Option {
	return func(d *Daemon) {
		if r != nil {
			d.recon = r
		}
	}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *catalog.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		prober:   governor.NvidiaProber{},
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.frames == nil {
		frames, err := ffmpeg.New(cfg.Engine.FFmpegBinary, cfg.Engine.ExtractTimeout)
		if err != nil {
			return nil, fmt.Errorf("ffmpeg client: %w", err)
		}
		d.frames = frames
	}
	if d.recon == nil {
		recon, err := colmap.New(cfg.Engine.ColmapBinary, colmap.StageTimeouts{
			Detect: time.Duration(cfg.Engine.DetectTimeout) * time.Second,
			Match:  time.Duration(cfg.Engine.MatchTimeout) * time.Second,
			Sparse: time.Duration(cfg.Engine.SparseTimeout) * time.Second,
			Dense:  time.Duration(cfg.Engine.DenseTimeout) * time.Second,
			Export: time.Duration(cfg.Engine.ExportTimeout) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("colmap client: %w", err)
		}
		d.recon = recon
	}
	return d, nil
}

// Start acquires the instance lock, recovers interrupted jobs, probes the
// compute tier, and launches the worker pool and HTTP server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another reconstructd instance is already running")
	}

	if err := d.cfg.EnsureDirectories(); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	// Jobs left in flight by a previous run can never resume.
	recovered, err := d.store.FailInFlight(ctx, catalog.DaemonStopReason)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}
	if recovered > 0 {
		d.logger.Warn("marked interrupted jobs as failed", logging.Int("count", int(recovered)))
	}

	d.tier = d.prober.Probe(ctx)
	d.logger.Info("compute tier detected", logging.String("tier", string(d.tier)))

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.driver = pipeline.New(d.cfg, d.store, d.frames, d.recon, d.tier, d.logger)
	d.gov = governor.New(d.cfg.Governor, d.logger)
	d.gov.Start(runCtx, d.driver.Run)

	d.server = api.NewServer(api.ServerConfig{
		Config:    d.cfg,
		Store:     d.store,
		Governor:  d.gov,
		Driver:    d.driver,
		Tier:      d.tier,
		Logger:    d.logger,
		StartTime: time.Now(),
	})
	ln, err := net.Listen("tcp", d.cfg.Paths.APIBind)
	if err != nil {
		cancel()
		d.gov.Wait()
		_ = d.lock.Unlock()
		return fmt.Errorf("bind %s: %w", d.cfg.Paths.APIBind, err)
	}
	d.listener = ln
	d.serverErr = make(chan error, 1)
	go func() {
		d.serverErr <- d.server.Serve(ln)
	}()

	d.running.Store(true)
	d.logger.Info("reconstructd started",
		logging.String("addr", ln.Addr().String()),
		logging.String("lock", d.lockPath))
	return nil
}

// Stop drains the HTTP server, stops the worker pool, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("HTTP shutdown incomplete", logging.Error(err))
	}
	if err := <-d.serverErr; err != nil {
		d.logger.Warn("HTTP server error", logging.Error(err))
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.gov.Wait()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("reconstructd stopped")
}

// Close stops the daemon and releases the catalog store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr returns the bound API address, empty until Start succeeds.
func (d *Daemon) Addr() string {
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	status := Status{
		Running:      d.running.Load(),
		Tier:         d.tier,
		CatalogPath:  d.cfg.CatalogPath(),
		LockFilePath: d.lockPath,
	}
	if d.gov != nil {
		status.ActiveJobs = d.gov.ActiveCount()
		status.QueuedJobs = d.gov.QueueDepth()
	}
	stats, err := d.store.Stats(ctx)
	if err != nil {
		return status, err
	}
	status.Jobs = stats
	return status, nil
}
