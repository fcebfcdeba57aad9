package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"photopipe/internal/jobqueue"
	"photopipe/internal/logging"
	"photopipe/internal/pipeline"
	"photopipe/internal/services"
)

// Handle executes one job. Jobs that no longer apply are skipped and return
// nil; a failing step is reported to the store and its error returned.
func (w *Worker) Handle(ctx context.Context, job jobqueue.Job) error {
	started := time.Now()
	logger := w.logger.With(
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobKind, string(job.Kind)),
		logging.TaskID(job.Task.ID),
	)
	if job.CorrelationID != "" {
		logger = logger.With(logging.String(logging.FieldCorrelationID, job.CorrelationID))
	}
	if job.Image != "" {
		logger = logger.With(logging.String(logging.FieldImage, job.Image))
	}

	if err := job.Validate(); err != nil {
		logging.WarnWithContext(logger, "dropping invalid job", "job_invalid",
			logging.Error(err),
			logging.ErrorHint("check coordinator and worker run the same photopipe version"),
		)
		w.finish(job, ResultInvalid, started)
		return nil
	}

	res := w.store.GetTask(ctx, job.Task.ID)
	if !res.OK() {
		if errors.Is(res.Err, services.ErrNotFound) {
			logger.Info("task no longer exists; skipping job")
			w.finish(job, ResultSkipped, started)
			return nil
		}
		w.finish(job, ResultFailed, started)
		return res.Err
	}
	task := res.Data
	if task.Step != job.Task.Step {
		logger.Info("task moved on; skipping job",
			logging.String("job_step", job.Task.Step.String()),
			logging.String("task_step", task.Step.String()),
		)
		w.finish(job, ResultSkipped, started)
		return nil
	}

	logger, closeLog := w.taskLogger(logger.With(logging.Step(task.Step.String())), task.ID)
	defer closeLog()

	err := w.execute(ctx, logger, task, job)
	if err == nil {
		logger.Info("job finished", logging.Duration("duration", time.Since(started)))
		w.finish(job, ResultSucceeded, started)
		return nil
	}

	logging.ErrorWithContext(logger, "job failed", "job_failed",
		logging.Error(err),
		logging.ErrorHint(jobHint(err)),
		logging.String(logging.FieldImpact, "task is dispatched again on the next coordinator cycle"),
	)
	w.reportFailure(ctx, logger, task, err)
	w.finish(job, ResultFailed, started)
	return err
}

func (w *Worker) execute(ctx context.Context, logger *slog.Logger, task pipeline.Task, job jobqueue.Job) error {
	step, err := pipeline.StepFor(task)
	if err != nil {
		return err
	}

	jobCtx := services.WithTaskID(ctx, task.ID)
	jobCtx = services.WithStep(jobCtx, step.Name())
	jobCtx = services.WithJobKind(jobCtx, string(job.Kind))
	jobCtx = services.WithRequestID(jobCtx, job.CorrelationID)
	var cancel context.CancelFunc
	if w.opts.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(jobCtx, w.opts.JobTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(jobCtx)
	}
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go w.heartbeat(jobCtx, &wg, logger, task)
	defer wg.Wait()
	defer cancel()

	env := *w.env
	env.Logger = logger
	logger.Info("job started")
	if job.Image != "" {
		return step.ProcessImage(jobCtx, &env, job.Image)
	}
	return step.Process(jobCtx, &env)
}

func (w *Worker) heartbeat(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, task pipeline.Task) {
	defer wg.Done()
	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := w.store.TouchHeartbeat(ctx, task.ID, task.Step)
			if !res.OK() {
				if errors.Is(res.Err, context.Canceled) {
					return
				}
				logger.Warn("heartbeat update failed", logging.Error(res.Err))
			}
		}
	}
}

func (w *Worker) reportFailure(ctx context.Context, logger *slog.Logger, task pipeline.Task, cause error) {
	res := w.store.ReportFailure(context.WithoutCancel(ctx), task.ID, task.Step, cause.Error())
	switch {
	case !res.OK():
		logging.WarnWithContext(logger, "could not record job failure", "failure_report_failed",
			logging.Error(res.Err),
			logging.ErrorHint("the coordinator requeues the task once its heartbeat goes stale"),
		)
	case !res.Data:
		logger.Debug("failure not recorded; task already left this step")
	}
}

func (w *Worker) finish(job jobqueue.Job, result string, started time.Time) {
	w.opts.Metrics.JobFinished(string(job.Kind), result, time.Since(started))
}

func jobHint(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "raise worker.job_timeout or check the external tool is not hung"
	case errors.Is(err, services.ErrExternalTool):
		return "check the tool paths in [tools] and the worker log"
	case errors.Is(err, services.ErrConfiguration):
		return "check the [templates] and [tools] settings"
	case errors.Is(err, services.ErrValidation):
		return "check the task folder contents"
	default:
		return "inspect the task log for details"
	}
}
