package taskstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"photopipe/internal/config"
	"photopipe/internal/pipeline"
	"photopipe/internal/services"
)

// Backend is the storage contract both the SQLite and Mongo stores satisfy.
// Each call is individually atomic; there are no cross-call transactions.
type Backend interface {
	// NextTaskID increments the sequence counter and returns the new value.
	NextTaskID(ctx context.Context) (int64, error)
	// LatestTaskID reports the last assigned id, or 0 when none was assigned.
	LatestTaskID(ctx context.Context) (int64, error)
	// Insert stores task. A zero ID is replaced with the next sequence value;
	// an explicit ID raises the counter when it is ahead.
	Insert(ctx context.Context, task pipeline.Task) (pipeline.Task, error)
	Get(ctx context.Context, id int64) (pipeline.Task, error)
	// Replace overwrites every field of the task with the same ID.
	Replace(ctx context.Context, task pipeline.Task) error
	Delete(ctx context.Context, id int64) error
	// List returns all tasks ordered by ID.
	List(ctx context.Context) ([]pipeline.Task, error)
	// Restart resets one task to NotStarted.
	Restart(ctx context.Context, id int64) error
	// RestartAll resets every task and returns how many were touched.
	RestartAll(ctx context.Context) (int64, error)
	// ReportFailure clears the in-progress flag of a task still running step,
	// bumps its attempts, and records message. It reports whether a task matched.
	ReportFailure(ctx context.Context, id int64, step pipeline.StepIndex, message string) (bool, error)
	// TouchHeartbeat stamps heartbeat_at on a task still running step.
	TouchHeartbeat(ctx context.Context, id int64, step pipeline.StepIndex) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open connects the backend selected by cfg.Store.Backend.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "taskstore", "open", "config is required", nil)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Backend)) {
	case "", config.BackendSQLite:
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
		return OpenSQLite(ctx, cfg.DatabasePath(), logger)
	case config.BackendMongo:
		return OpenMongo(ctx, MongoOptions{
			URI:      cfg.Store.MongoURI,
			Database: cfg.Store.MongoDatabase,
			Logger:   logger,
		})
	default:
		return nil, services.Wrap(services.ErrConfiguration, "taskstore", "open",
			fmt.Sprintf("unsupported store backend %q", cfg.Store.Backend), nil)
	}
}

func notFound(id int64) error {
	return services.Wrap(services.ErrNotFound, "taskstore", "lookup", fmt.Sprintf("task %d not found", id), nil)
}

func persistence(operation string, err error) error {
	return services.Wrap(services.ErrPersistence, "taskstore", operation, "", err)
}
