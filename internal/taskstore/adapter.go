package taskstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"photopipe/internal/logging"
	"photopipe/internal/pipeline"
	"photopipe/internal/services"
)

// Status is the outcome carried by every Result.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is the uniform envelope returned by every Adapter operation.
type Result[T any] struct {
	Status  Status `json:"status" yaml:"status"`
	Data    T      `json:"data" yaml:"data"`
	Message string `json:"message" yaml:"message"`
	Err     error  `json:"-" yaml:"-"`
}

// OK reports whether the operation succeeded.
func (r Result[T]) OK() bool {
	return r.Status == StatusSuccess
}

// Unwrap returns the data, or the classified error when the operation failed.
func (r Result[T]) Unwrap() (T, error) {
	if r.OK() {
		return r.Data, nil
	}
	if r.Err != nil {
		return r.Data, r.Err
	}
	return r.Data, errors.New(r.Message)
}

func success[T any](data T, message string) Result[T] {
	return Result[T]{Status: StatusSuccess, Data: data, Message: message}
}

// RestartRequest selects one task or all of them.
type RestartRequest struct {
	TaskID int64 `json:"task_id,omitempty"`
	All    bool  `json:"all,omitempty"`
}

// Adapter wraps a Backend with validation, logging, and the Result envelope.
type Adapter struct {
	backend Backend
	logger  *slog.Logger
}

// NewAdapter returns an adapter over backend.
func NewAdapter(backend Backend, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Adapter{
		backend: backend,
		logger:  logger.With(logging.String(logging.FieldComponent, "taskstore")),
	}
}

// Backend exposes the wrapped store.
func (a *Adapter) Backend() Backend {
	return a.backend
}

// Close closes the backend.
func (a *Adapter) Close() error {
	if a == nil || a.backend == nil {
		return nil
	}
	return a.backend.Close()
}

// Ping checks backend connectivity.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.backend.Ping(ctx)
}

// NextTaskID reserves the next task id.
func (a *Adapter) NextTaskID(ctx context.Context) Result[int64] {
	id, err := a.backend.NextTaskID(ctx)
	if err != nil {
		return fail[int64](a, "next_task_id", err)
	}
	return success(id, "Returned next task id")
}

// LatestTaskID reports the last assigned id, 0 when none was ever assigned.
func (a *Adapter) LatestTaskID(ctx context.Context) Result[int64] {
	id, err := a.backend.LatestTaskID(ctx)
	if err != nil {
		return fail[int64](a, "latest_task_id", err)
	}
	return success(id, "Returned latest task id")
}

// AddTask validates and stores a new task at NotStarted.
func (a *Adapter) AddTask(ctx context.Context, task pipeline.Task) Result[pipeline.Task] {
	task.Step = pipeline.StepNotStarted
	task.ClearProgress()
	task.Attempts = 0
	task.LastError = ""
	if task.ID < 0 {
		return fail[pipeline.Task](a, "add_task", services.Wrap(services.ErrValidation, "task", "validate", "task_id must be positive", nil))
	}
	if err := task.Validate(); err != nil {
		return fail[pipeline.Task](a, "add_task", err)
	}
	stored, err := a.backend.Insert(ctx, task)
	if err != nil {
		return fail[pipeline.Task](a, "add_task", err)
	}
	a.logger.Info("task added", logging.TaskID(stored.ID), logging.String("location", stored.Location))
	return success(stored, fmt.Sprintf("Added task: %d", stored.ID))
}

// GetTask fetches one task.
func (a *Adapter) GetTask(ctx context.Context, id int64) Result[pipeline.Task] {
	task, err := a.backend.Get(ctx, id)
	if err != nil {
		return fail[pipeline.Task](a, "get_task", err)
	}
	return success(task, "Returned task data")
}

// UpdateTask replaces every field of the stored task with the same id.
func (a *Adapter) UpdateTask(ctx context.Context, task pipeline.Task) Result[pipeline.Task] {
	if task.ID <= 0 {
		return fail[pipeline.Task](a, "update_task", services.Wrap(services.ErrValidation, "task", "validate", "task_id is required", nil))
	}
	if err := task.Validate(); err != nil {
		return fail[pipeline.Task](a, "update_task", err)
	}
	if err := a.backend.Replace(ctx, task); err != nil {
		return fail[pipeline.Task](a, "update_task", err)
	}
	return success(task, "Updated task")
}

// DeleteTask removes one task.
func (a *Adapter) DeleteTask(ctx context.Context, id int64) Result[int64] {
	if err := a.backend.Delete(ctx, id); err != nil {
		return fail[int64](a, "delete_task", err)
	}
	a.logger.Info("task deleted", logging.TaskID(id))
	return success(id, "Deleted task")
}

// ListTasks returns every task ordered by id.
func (a *Adapter) ListTasks(ctx context.Context) Result[[]pipeline.Task] {
	tasks, err := a.backend.List(ctx)
	if err != nil {
		return fail[[]pipeline.Task](a, "list_tasks", err)
	}
	if tasks == nil {
		tasks = []pipeline.Task{}
	}
	return success(tasks, "Returned task list")
}

// RestartTask resets one task, or every task when req.All is set, to
// NotStarted. Data carries the number of tasks reset.
func (a *Adapter) RestartTask(ctx context.Context, req RestartRequest) Result[int64] {
	if req.All {
		count, err := a.backend.RestartAll(ctx)
		if err != nil {
			return fail[int64](a, "restart_task", err)
		}
		a.logger.Info("all tasks restarted", logging.Int64("count", count))
		return success(count, "Requested to process all tasks")
	}
	if req.TaskID <= 0 {
		return fail[int64](a, "restart_task", services.Wrap(services.ErrValidation, "task", "restart", "task_id or all is required", nil))
	}
	if err := a.backend.Restart(ctx, req.TaskID); err != nil {
		return fail[int64](a, "restart_task", err)
	}
	a.logger.Info("task restarted", logging.TaskID(req.TaskID))
	return success(int64(1), "Requested to process task")
}

// TouchHeartbeat records worker liveness for a task still running step.
// Data is false when the task moved on or was restarted.
func (a *Adapter) TouchHeartbeat(ctx context.Context, id int64, step pipeline.StepIndex) Result[bool] {
	ok, err := a.backend.TouchHeartbeat(ctx, id, step)
	if err != nil {
		return fail[bool](a, "touch_heartbeat", err)
	}
	return success(ok, "Recorded heartbeat")
}

// ReportFailure releases a task whose job failed so the coordinator can
// retry it. Data is false when the task no longer runs step.
func (a *Adapter) ReportFailure(ctx context.Context, id int64, step pipeline.StepIndex, message string) Result[bool] {
	ok, err := a.backend.ReportFailure(ctx, id, step, message)
	if err != nil {
		return fail[bool](a, "report_failure", err)
	}
	if ok {
		logging.WarnWithContext(a.logger, "job failure recorded", "job_failure_recorded",
			logging.TaskID(id),
			logging.Step(step.String()),
			logging.String("last_error", message),
			logging.String(logging.FieldImpact, "coordinator will re-dispatch while attempts remain"),
		)
	}
	return success(ok, "Recorded failure")
}

func fail[T any](a *Adapter, operation string, err error) Result[T] {
	if !classified(err) {
		err = services.Wrap(services.ErrPersistence, "taskstore", operation, "", err)
	}
	logging.WarnWithContext(a.logger, "task store operation failed", "store_operation_failed",
		logging.String("operation", operation),
		logging.Error(err),
		logging.String("error_kind", services.Kind(err)),
		logging.ErrorHint(storeHint(err)),
	)
	var zero T
	return Result[T]{Status: StatusError, Data: zero, Message: err.Error(), Err: err}
}

func classified(err error) bool {
	for _, marker := range []error{
		services.ErrPersistence,
		services.ErrNotFound,
		services.ErrValidation,
		services.ErrConfiguration,
	} {
		if errors.Is(err, marker) {
			return true
		}
	}
	return false
}

func storeHint(err error) string {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return "list tasks to confirm the id"
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrConfiguration):
		return "fix the request fields and retry"
	default:
		return "check the task store is reachable"
	}
}
