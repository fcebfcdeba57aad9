package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"photopipe/internal/jobqueue"
	"photopipe/internal/logging"
	"photopipe/internal/pipeline"
	"photopipe/internal/services"
)

// RunCycle performs one pass over every task. It returns an error only when
// the task list cannot be read; per-task failures are logged and counted.
func (c *Coordinator) RunCycle(ctx context.Context) (CycleStats, error) {
	correlationID := uuid.NewString()
	stats := newCycleStats(correlationID, c.opts.Now())
	ctx = services.WithRequestID(ctx, correlationID)
	logger := c.logger.With(logging.String(logging.FieldCorrelationID, correlationID))

	res := c.store.ListTasks(ctx)
	if !res.OK() {
		err := res.Err
		if err == nil {
			err = services.Wrap(services.ErrPersistence, "coordinator", "list tasks", res.Message, nil)
		}
		stats.Errors++
		stats.Duration = time.Since(stats.StartedAt)
		c.recordCycle(stats, err)
		return stats, err
	}

	stats.Tasks = len(res.Data)
	for _, task := range res.Data {
		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(stats.StartedAt)
			c.recordCycle(stats, nil)
			return stats, err
		}
		outcome := c.processTask(ctx, logger, task, correlationID)
		stats.record(task.ID, outcome.decision)
		stats.JobsSent += outcome.jobsSent
		if outcome.err != nil {
			stats.Errors++
		}
	}

	stats.Duration = time.Since(stats.StartedAt)
	c.opts.Metrics.ObserveCycle(stats.Duration)
	c.recordCycle(stats, nil)
	logger.Debug("coordinator cycle complete",
		logging.Int("tasks", stats.Tasks),
		logging.Int("jobs_sent", stats.JobsSent),
		logging.Int("errors", stats.Errors),
		logging.Duration("duration", stats.Duration),
	)
	return stats, nil
}

type taskOutcome struct {
	decision Decision
	jobsSent int
	err      error
}

func (c *Coordinator) processTask(ctx context.Context, base *slog.Logger, task pipeline.Task, correlationID string) taskOutcome {
	logger := base.With(logging.TaskID(task.ID), logging.Step(task.Step.String()))

	step, err := pipeline.StepFor(task)
	if err != nil {
		logging.ErrorWithContext(logger, "task has an unknown step", "unknown_step",
			logging.Error(err),
			logging.ErrorHint("restart the task or fix its step in the store"),
		)
		return c.decide(logger, task, DecisionSkip, "unknown step", err)
	}
	if task.Step == pipeline.StepCompleted {
		return c.decide(logger, task, DecisionSkip, "pipeline complete", nil)
	}

	if task.StepInProgress {
		if step.IsFinished() {
			return c.advance(ctx, logger, task)
		}
		if idle, stale := c.stale(task); stale {
			return c.requeue(ctx, logger, task, idle)
		}
		return c.decide(logger, task, DecisionWait, "step in progress", nil)
	}

	if step.IsFinished() {
		return c.advance(ctx, logger, task)
	}
	if c.opts.MaxAttempts > 0 && task.Attempts >= c.opts.MaxAttempts {
		return c.decide(logger, task, DecisionHold,
			fmt.Sprintf("attempts exhausted (%d/%d); restart the task to retry", task.Attempts, c.opts.MaxAttempts), nil)
	}
	return c.dispatch(ctx, logger, step, correlationID)
}

func (c *Coordinator) decide(logger *slog.Logger, task pipeline.Task, decision Decision, reason string, err error) taskOutcome {
	logger.Debug("coordinator decision", logging.Args(logging.DecisionAttrs(string(decision), reason)...)...)
	c.opts.Metrics.Decision(string(decision), task.Step.String())
	return taskOutcome{decision: decision, err: err}
}

func (c *Coordinator) advance(ctx context.Context, logger *slog.Logger, task pipeline.Task) taskOutcome {
	original := task
	task.Advance()
	if err := c.persist(ctx, logger, task); err != nil {
		return taskOutcome{decision: DecisionAdvance, err: err}
	}
	logger.Info("task advanced",
		logging.String("from_step", original.Step.String()),
		logging.String("to_step", task.Step.String()),
	)
	return c.decide(logger, original, DecisionAdvance, fmt.Sprintf("%s finished", original.Step), nil)
}

func (c *Coordinator) stale(task pipeline.Task) (time.Duration, bool) {
	if c.opts.StaleTimeout <= 0 {
		return 0, false
	}
	last, ok := task.LastActivity()
	if !ok {
		last = task.UpdatedAt
	}
	if last.IsZero() {
		return 0, false
	}
	idle := c.opts.Now().Sub(last)
	return idle, idle > c.opts.StaleTimeout
}

func (c *Coordinator) requeue(ctx context.Context, logger *slog.Logger, task pipeline.Task, idle time.Duration) taskOutcome {
	task.ClearProgress()
	task.Attempts++
	task.LastError = fmt.Sprintf("no worker activity for %s", idle.Round(time.Second))
	if err := c.persist(ctx, logger, task); err != nil {
		return taskOutcome{decision: DecisionRequeue, err: err}
	}
	logging.WarnWithContext(logger, "requeued stale task", "task_requeued",
		logging.Duration("idle", idle),
		logging.Int("attempts", task.Attempts),
		logging.ErrorHint("check worker logs for a crashed or hung job"),
	)
	return c.decide(logger, task, DecisionRequeue, task.LastError, nil)
}

func (c *Coordinator) dispatch(ctx context.Context, logger *slog.Logger, step pipeline.Step, correlationID string) taskOutcome {
	task := step.Task
	jobs, err := jobsFor(step)
	if err != nil {
		logging.WarnWithContext(logger, "could not plan jobs", "dispatch_plan_failed",
			logging.Error(err),
			logging.ErrorHint("check the task folder is readable"),
		)
		return c.decide(logger, task, DecisionWait, "job planning failed", err)
	}
	if len(jobs) == 0 {
		return c.decide(logger, task, DecisionWait, "no input images yet", nil)
	}

	sent := 0
	var firstErr error
	for _, job := range jobs {
		job = job.WithCorrelation(correlationID)
		if err := c.dispatcher.Dispatch(ctx, job); err != nil {
			c.opts.Metrics.DispatchFailure(string(job.Kind))
			if firstErr == nil {
				firstErr = err
			}
			logging.WarnWithContext(logger, "job dispatch failed", "dispatch_failed",
				logging.String(logging.FieldJobKind, string(job.Kind)),
				logging.String(logging.FieldImage, job.Image),
				logging.Error(err),
				logging.ErrorHint("check queue.redis_addr and that Redis is running"),
				logging.String(logging.FieldImpact, "job is sent again by the next dispatch of this step"),
			)
			continue
		}
		sent++
	}
	if firstErr != nil && sent == 0 {
		return c.decide(logger, task, DecisionDispatchFailed,
			fmt.Sprintf("0 of %d jobs sent", len(jobs)), firstErr)
	}

	// Jobs already in the stream keep the step in progress; unsent images
	// are picked up again once the step is requeued.
	task.MarkDispatched(c.opts.Now())
	if err := c.persist(ctx, logger, task); err != nil {
		return taskOutcome{decision: DecisionDispatch, jobsSent: sent, err: err}
	}
	if firstErr != nil {
		outcome := c.decide(logger, task, DecisionDispatchFailed,
			fmt.Sprintf("%d of %d jobs sent", sent, len(jobs)), firstErr)
		outcome.jobsSent = sent
		return outcome
	}
	outcome := c.decide(logger, task, DecisionDispatch, fmt.Sprintf("%d %s job(s) sent", sent, step.Meta.JobKind), nil)
	outcome.jobsSent = sent
	return outcome
}

func jobsFor(step pipeline.Step) ([]jobqueue.Job, error) {
	kind := step.Meta.JobKind
	switch step.Unit() {
	case pipeline.UnitPerImage:
		pending, err := step.PendingImages()
		if err != nil {
			return nil, err
		}
		jobs := make([]jobqueue.Job, 0, len(pending))
		for _, id := range pending {
			jobs = append(jobs, jobqueue.NewJob(kind, step.Task, id))
		}
		return jobs, nil
	case pipeline.UnitWholeStep:
		if step.Index != pipeline.StepNotStarted {
			inputs, err := step.ListInputImages()
			if err != nil {
				return nil, err
			}
			if len(inputs) == 0 {
				return nil, nil
			}
		}
		return []jobqueue.Job{jobqueue.NewJob(kind, step.Task, "")}, nil
	default:
		return nil, nil
	}
}

func (c *Coordinator) persist(ctx context.Context, logger *slog.Logger, task pipeline.Task) error {
	res := c.store.UpdateTask(ctx, task)
	if res.OK() {
		return nil
	}
	err := res.Err
	if err == nil {
		err = services.Wrap(services.ErrPersistence, "coordinator", "update task", res.Message, nil)
	}
	logging.WarnWithContext(logger, "task update failed", "task_update_failed",
		logging.Error(err),
		logging.ErrorHint("check the task store is reachable"),
		logging.String(logging.FieldImpact, "decision is retried next cycle"),
	)
	return err
}
