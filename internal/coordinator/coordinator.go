package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"photopipe/internal/config"
	"photopipe/internal/jobqueue"
	"photopipe/internal/logging"
	"photopipe/internal/metrics"
	"photopipe/internal/pipeline"
	"photopipe/internal/taskstore"
)

// TaskStore is the slice of the persistence adapter the loop needs.
type TaskStore interface {
	ListTasks(ctx context.Context) taskstore.Result[[]pipeline.Task]
	UpdateTask(ctx context.Context, task pipeline.Task) taskstore.Result[pipeline.Task]
}

// Options tune the loop. Zero durations fall back to defaults.
type Options struct {
	PollInterval       time.Duration
	ErrorRetryInterval time.Duration
	// StaleTimeout requeues in-progress tasks with no activity for this long.
	// Zero disables staleness checks.
	StaleTimeout time.Duration
	// MaxAttempts holds a task after this many failed attempts. Zero disables
	// the budget.
	MaxAttempts int
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Coordinator owns the poll loop.
type Coordinator struct {
	store      TaskStore
	dispatcher jobqueue.Dispatcher
	opts       Options
	logger     *slog.Logger

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastErr   error
	lastCycle *CycleStats
	cycles    int64
}

// New builds a coordinator over store and dispatcher.
func New(store TaskStore, dispatcher jobqueue.Dispatcher, opts Options) *Coordinator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.ErrorRetryInterval <= 0 {
		opts.ErrorRetryInterval = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		store:      store,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger.With(logging.String(logging.FieldComponent, "coordinator")),
	}
}

// NewFromConfig builds a coordinator using the [coordinator] settings.
func NewFromConfig(cfg *config.Config, store TaskStore, dispatcher jobqueue.Dispatcher, logger *slog.Logger, m *metrics.Metrics) *Coordinator {
	return New(store, dispatcher, Options{
		PollInterval:       cfg.PollInterval(),
		ErrorRetryInterval: cfg.ErrorRetryInterval(),
		StaleTimeout:       cfg.StaleTimeout(),
		MaxAttempts:        cfg.Coordinator.MaxAttempts,
		Logger:             logger,
		Metrics:            m,
	})
}

// Start begins polling in the background.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("coordinator already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("coordinator started",
		logging.Duration("poll_interval", c.opts.PollInterval),
		logging.Duration("stale_timeout", c.opts.StaleTimeout),
		logging.Int("max_attempts", c.opts.MaxAttempts),
	)
	go c.loop(runCtx)
	return nil
}

// Stop terminates polling and waits for the current cycle to finish.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.running = false
	c.cancel = nil
	c.mu.Unlock()

	cancel()
	c.wg.Wait()
	c.logger.Info("coordinator stopped")
}

func (c *Coordinator) loop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := c.RunCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.handleCycleError(ctx, err)
			continue
		}
		c.waitOrShutdown(ctx, c.opts.PollInterval)
	}
}

func (c *Coordinator) handleCycleError(ctx context.Context, err error) {
	logging.ErrorWithContext(c.logger, "coordinator cycle failed", "cycle_failed",
		logging.Error(err),
		logging.ErrorHint("check the task store is reachable"),
		logging.String(logging.FieldImpact, "no tasks progress until the store recovers"),
	)
	c.waitOrShutdown(ctx, c.opts.ErrorRetryInterval)
}

func (c *Coordinator) waitOrShutdown(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// StatusSummary is a point-in-time view of the loop.
type StatusSummary struct {
	Running   bool        `json:"running"`
	Cycles    int64       `json:"cycles"`
	LastError string      `json:"last_error,omitempty"`
	LastCycle *CycleStats `json:"last_cycle,omitempty"`
}

// Status reports whether the loop runs and how the last cycle went.
func (c *Coordinator) Status() StatusSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	summary := StatusSummary{Running: c.running, Cycles: c.cycles}
	if c.lastErr != nil {
		summary.LastError = c.lastErr.Error()
	}
	if c.lastCycle != nil {
		cycle := *c.lastCycle
		summary.LastCycle = &cycle
	}
	return summary
}

func (c *Coordinator) recordCycle(stats CycleStats, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cycles++
	c.lastErr = err
	c.lastCycle = &stats
}
