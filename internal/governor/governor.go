package governor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/marco-interact/colmap-mvp-sub000/internal/config"
	"github.com/marco-interact/colmap-mvp-sub000/internal/logging"
	"github.com/marco-interact/colmap-mvp-sub000/internal/services"
)

// RunFunc processes one admitted job. The context is cancelled when the job
// is aborted by request or the daemon shuts down.
type RunFunc func(ctx context.Context, jobID string) error

// Governor admits jobs into a fixed-size worker pool. Admission is gated by a
// token-bucket rate limit and a bounded FIFO queue; exceeding either rejects
// the submission immediately rather than blocking the API.
type Governor struct {
	logger  *slog.Logger
	limiter *rate.Limiter
	queue   chan string
	workers int

	mu       sync.Mutex
	active   int
	reserved int
	cancels  map[string]context.CancelFunc

	startOnce sync.Once
	group     *errgroup.Group
}

// New builds a governor from the configured limits.
func New(cfg config.Governor, logger *slog.Logger) *Governor {
	if logger == nil {
		logger = logging.NewNop()
	}
	perMinute := cfg.SubmissionsPerMinute
	if perMinute <= 0 {
		perMinute = 1
	}
	workers := cfg.MaxConcurrentJobs
	if workers <= 0 {
		workers = 1
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = workers
	}
	return &Governor{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		queue:   make(chan string, capacity),
		workers: workers,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start launches the worker pool. Workers drain the admission queue until the
// context is cancelled; Start returns immediately.
func (g *Governor) Start(ctx context.Context, run RunFunc) {
	g.startOnce.Do(func() {
		group, groupCtx := errgroup.WithContext(ctx)
		g.group = group
		for i := 0; i < g.workers; i++ {
			worker := i
			group.Go(func() error {
				g.workerLoop(groupCtx, worker, run)
				return nil
			})
		}
	})
}

// Wait blocks until all workers have exited after context cancellation.
func (g *Governor) Wait() {
	if g.group != nil {
		_ = g.group.Wait()
	}
}

// A Reservation holds one admission slot between the admission decision and
// the enqueue. Exactly one of Commit or Release must be called.
type Reservation struct {
	g    *Governor
	once sync.Once
}

// Reserve decides admission without enqueueing: it consumes a rate-limit
// token and holds a queue slot. Callers create durable state between Reserve
// and Commit so a rejected submission leaves nothing behind.
func (g *Governor) Reserve() (*Reservation, error) {
	if !g.limiter.Allow() {
		return nil, services.Wrap(services.ErrResourceExhausted, "governor", "reserve", "submission rate limit exceeded", nil)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queue)+g.reserved >= cap(g.queue) {
		return nil, services.Wrap(services.ErrResourceExhausted, "governor", "reserve", "admission queue is full", nil)
	}
	g.reserved++
	return &Reservation{g: g}, nil
}

// Commit enqueues the job into the reserved slot.
func (r *Reservation) Commit(jobID string) {
	r.once.Do(func() {
		r.g.mu.Lock()
		r.g.reserved--
		// All enqueues pass through a reservation, so the slot is free.
		r.g.queue <- jobID
		r.g.mu.Unlock()
	})
}

// Release returns the slot without enqueueing. The rate-limit token is not
// refunded.
func (r *Reservation) Release() {
	r.once.Do(func() {
		r.g.mu.Lock()
		r.g.reserved--
		r.g.mu.Unlock()
	})
}

// Submit admits a job into the queue. It returns a resource-exhausted error
// when the submission rate limit is exceeded or the queue is full.
func (g *Governor) Submit(jobID string) error {
	if jobID == "" {
		return errors.New("job id required")
	}
	res, err := g.Reserve()
	if err != nil {
		return err
	}
	res.Commit(jobID)
	return nil
}

// Cancel aborts a running job. It reports whether the job was in flight.
func (g *Governor) Cancel(jobID string) bool {
	g.mu.Lock()
	cancel, ok := g.cancels[jobID]
	g.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveCount returns the number of jobs currently executing.
func (g *Governor) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// QueueDepth returns the number of admitted jobs waiting for a worker.
func (g *Governor) QueueDepth() int {
	return len(g.queue)
}

func (g *Governor) workerLoop(ctx context.Context, worker int, run RunFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-g.queue:
			g.runJob(ctx, worker, jobID, run)
		}
	}
}

func (g *Governor) runJob(ctx context.Context, worker int, jobID string, run RunFunc) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.mu.Lock()
	g.active++
	g.cancels[jobID] = cancel
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.active--
		delete(g.cancels, jobID)
		g.mu.Unlock()
	}()

	logger := g.logger.With(
		logging.String(logging.FieldComponent, "governor"),
		logging.String(logging.FieldJobID, jobID),
		logging.Int("worker", worker),
	)
	logger.Info("job admitted to worker")
	if err := run(services.WithJobID(jobCtx, jobID), jobID); err != nil {
		logger.Error("job finished with error", logging.Error(err))
		return
	}
	logger.Info("job finished")
}
