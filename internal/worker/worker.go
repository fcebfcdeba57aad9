package worker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"photopipe/internal/config"
	"photopipe/internal/imaging"
	"photopipe/internal/jobqueue"
	"photopipe/internal/logging"
	"photopipe/internal/logs"
	"photopipe/internal/metrics"
	"photopipe/internal/pipeline"
	"photopipe/internal/taskstore"
)

// Store is the part of the persistence adapter a worker talks to.
type Store interface {
	GetTask(ctx context.Context, id int64) taskstore.Result[pipeline.Task]
	TouchHeartbeat(ctx context.Context, id int64, step pipeline.StepIndex) taskstore.Result[bool]
	ReportFailure(ctx context.Context, id int64, step pipeline.StepIndex, message string) taskstore.Result[bool]
}

// Source delivers jobs to a handler.
type Source interface {
	Consume(ctx context.Context, concurrency int, handler jobqueue.Handler) error
}

// Job results recorded in metrics.
const (
	ResultSucceeded = "succeeded"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
	ResultInvalid   = "invalid"
)

// Options tune job execution.
type Options struct {
	Concurrency       int
	HeartbeatInterval time.Duration
	// JobTimeout bounds one job. Zero leaves jobs bounded only by shutdown.
	JobTimeout time.Duration
	// TaskLogDir receives one JSON log file per task when set.
	TaskLogDir string
	LogLevel   string
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Worker runs jobs against an explicit step environment.
type Worker struct {
	store  Store
	source Source
	env    *pipeline.Env
	opts   Options
	logger *slog.Logger
}

// New builds a worker. env is shared by every job.
func New(store Store, source Source, env *pipeline.Env, opts Options) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Worker{
		store:  store,
		source: source,
		env:    env,
		opts:   opts,
		logger: logger.With(logging.String(logging.FieldComponent, "worker")),
	}
}

// NewFromConfig builds the step environment from the [tools], [templates]
// and [worker] sections and returns a worker using it.
func NewFromConfig(cfg *config.Config, store Store, source Source, logger *slog.Logger, m *metrics.Metrics) (*Worker, error) {
	tools, err := imaging.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	env := &pipeline.Env{
		Logger: logger,
		Tools:  tools,
		Templates: pipeline.Templates{
			RCSettingDir: cfg.Templates.RCSettingDir,
			BlackImage:   cfg.Templates.BlackImage,
		},
		ReferencePollInterval: cfg.ReferencePollInterval(),
	}
	return New(store, source, env, Options{
		Concurrency:       cfg.Worker.Concurrency,
		HeartbeatInterval: cfg.HeartbeatInterval(),
		JobTimeout:        cfg.JobTimeout(),
		TaskLogDir:        filepath.Join(cfg.Paths.LogDir, "tasks"),
		LogLevel:          cfg.Logging.Level,
		Logger:            logger,
		Metrics:           m,
	}), nil
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		logging.Int("concurrency", w.opts.Concurrency),
		logging.Duration("heartbeat_interval", w.opts.HeartbeatInterval),
		logging.Duration("job_timeout", w.opts.JobTimeout),
	)
	err := w.source.Consume(ctx, w.opts.Concurrency, w.Handle)
	w.logger.Info("worker stopped")
	return err
}

// taskLogger tees job logs into the task's own log file. The returned close
// function is never nil.
func (w *Worker) taskLogger(logger *slog.Logger, taskID int64) (*slog.Logger, func()) {
	if w.opts.TaskLogDir == "" {
		return logger, func() {}
	}
	if err := os.MkdirAll(w.opts.TaskLogDir, 0o755); err != nil {
		logger.Debug("task log directory unavailable", logging.Error(err))
		return logger, func() {}
	}
	path := filepath.Join(w.opts.TaskLogDir, logs.TaskFile(taskID))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.Debug("task log file unavailable", logging.String("path", path), logging.Error(err))
		return logger, func() {}
	}
	return logging.TaskLogger(logger, taskID, logging.NewJSONHandler(file, w.opts.LogLevel)), func() { _ = file.Close() }
}
