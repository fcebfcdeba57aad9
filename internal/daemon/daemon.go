package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"photopipe/internal/config"
	"photopipe/internal/coordinator"
	"photopipe/internal/logging"
	"photopipe/internal/metrics"
	"photopipe/internal/pipeline"
	"photopipe/internal/taskstore"
)

// ErrAlreadyRunning is returned when another process holds the coordinator lock.
var ErrAlreadyRunning = errors.New("another photopipe coordinator is already running")

// QueueInspector reports job stream depth.
type QueueInspector interface {
	Length(ctx context.Context) (int64, error)
	Pending(ctx context.Context) (int64, error)
}

// Options carries optional collaborators.
type Options struct {
	Metrics           *metrics.Metrics
	Queue             QueueInspector
	// RetentionSchedule is a cron spec for log pruning. Defaults to @daily.
	RetentionSchedule string
}

// Daemon coordinates the coordinator loop and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *taskstore.Adapter
	coord  *coordinator.Coordinator
	opts   Options

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	scheduler *cron.Cron
	api       *apiServer

	running atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool                      `json:"running"`
	PID          int                       `json:"pid"`
	Coordinator  coordinator.StatusSummary `json:"coordinator"`
	StoreBackend string                    `json:"store_backend"`
	DatabasePath string                    `json:"database_path,omitempty"`
	LockFilePath string                    `json:"lock_file_path"`
	Queue        *QueueStatus              `json:"queue,omitempty"`
	TaskCounts   map[string]int            `json:"task_counts,omitempty"`
}

// QueueStatus summarizes the job stream.
type QueueStatus struct {
	Stream  string `json:"stream"`
	Length  int64  `json:"length"`
	Pending int64  `json:"pending"`
	Error   string `json:"error,omitempty"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *taskstore.Adapter, coord *coordinator.Coordinator, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil || store == nil || coord == nil {
		return nil, errors.New("daemon requires config, store, and coordinator")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if strings.TrimSpace(opts.RetentionSchedule) == "" {
		opts.RetentionSchedule = "@daily"
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logger.With(logging.String(logging.FieldComponent, "daemon")),
		store:    store,
		coord:    coord,
		opts:     opts,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	if err := opts.Metrics.RegisterTaskSource(d.listTasks); err != nil {
		return nil, fmt.Errorf("register task metrics: %w", err)
	}
	return d, nil
}

// Start acquires the coordinator lock, then starts the loop and the
// retention schedule.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	if err := d.coord.Start(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("start coordinator: %w", err)
	}

	scheduler, err := d.startRetention()
	if err != nil {
		d.logger.Warn("log retention not scheduled",
			logging.Error(err),
			logging.String(logging.FieldEventType, "retention_schedule_invalid"),
			logging.String(logging.FieldErrorHint, "check the retention schedule"),
		)
	}
	d.scheduler = scheduler

	d.running.Store(true)
	d.logger.Info("photopipe daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops the loop and releases the coordinator lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.coord.Stop()
	if d.scheduler != nil {
		<-d.scheduler.Stop().Done()
		d.scheduler = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("photopipe daemon stopped")
}

// Close stops the daemon and the API server and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	d.mu.Lock()
	api := d.api
	d.api = nil
	d.mu.Unlock()
	api.stop()
	return d.store.Close()
}

// Store exposes the task store for control surfaces.
func (d *Daemon) Store() *taskstore.Adapter {
	return d.store
}

// LockPath returns the coordinator lock file location.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Coordinator:  d.coord.Status(),
		StoreBackend: d.cfg.Store.Backend,
		LockFilePath: d.lockPath,
	}
	if d.cfg.Store.Backend == config.BackendSQLite {
		status.DatabasePath = d.cfg.DatabasePath()
	}
	if tasks, err := d.listTasks(ctx); err == nil {
		status.TaskCounts = make(map[string]int)
		for _, task := range tasks {
			status.TaskCounts[task.Step.String()]++
		}
	}
	if d.opts.Queue != nil {
		queue := &QueueStatus{Stream: d.cfg.Queue.Stream}
		var err error
		if queue.Length, err = d.opts.Queue.Length(ctx); err == nil {
			queue.Pending, err = d.opts.Queue.Pending(ctx)
		}
		if err != nil {
			queue.Error = err.Error()
		}
		status.Queue = queue
	}
	return status
}

func (d *Daemon) listTasks(ctx context.Context) ([]pipeline.Task, error) {
	res := d.store.ListTasks(ctx)
	if !res.OK() {
		return nil, res.Err
	}
	return res.Data, nil
}
