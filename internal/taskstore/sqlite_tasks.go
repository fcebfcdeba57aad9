package taskstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"photopipe/internal/pipeline"
	"photopipe/internal/services"
)

const taskColumns = "task_id, location, step, step_in_progress, needs_color_checker, needs_raw_images, attempts, last_error, dispatched_at, heartbeat_at, created_at, updated_at"

// NextTaskID increments the sequence counter.
func (s *SQLiteStore) NextTaskID(ctx context.Context) (int64, error) {
	var id int64
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			"UPDATE state SET latest_task_id = latest_task_id + 1 WHERE id = 1 RETURNING latest_task_id",
		).Scan(&id)
	})
	if err != nil {
		return 0, persistence("next task id", err)
	}
	return id, nil
}

// LatestTaskID reports the last assigned task id.
func (s *SQLiteStore) LatestTaskID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, "SELECT latest_task_id FROM state WHERE id = 1").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, persistence("latest task id", err)
	}
	return id, nil
}

// Insert stores a new task, assigning an id when it has none.
func (s *SQLiteStore) Insert(ctx context.Context, task pipeline.Task) (pipeline.Task, error) {
	if task.ID == 0 {
		id, err := s.NextTaskID(ctx)
		if err != nil {
			return pipeline.Task{}, err
		}
		task.ID = id
	}
	now := s.timestamp()
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tasks ("+taskColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			append(taskArgs(task), now, now)...,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE state SET latest_task_id = MAX(latest_task_id, ?) WHERE id = 1", task.ID,
		); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		if isConstraintViolation(err) {
			return pipeline.Task{}, services.Wrap(services.ErrValidation, "taskstore", "insert",
				fmt.Sprintf("task %d already exists", task.ID), err)
		}
		return pipeline.Task{}, persistence("insert", err)
	}
	return s.Get(ctx, task.ID)
}

// Get fetches one task by id.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (pipeline.Task, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE task_id = ?", id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.Task{}, notFound(id)
	}
	if err != nil {
		return pipeline.Task{}, persistence("get", err)
	}
	return task, nil
}

// Replace overwrites the stored task with the same id.
func (s *SQLiteStore) Replace(ctx context.Context, task pipeline.Task) error {
	res, err := s.exec(ctx, `UPDATE tasks SET
		location = ?, step = ?, step_in_progress = ?, needs_color_checker = ?, needs_raw_images = ?,
		attempts = ?, last_error = ?, dispatched_at = ?, heartbeat_at = ?, updated_at = ?
		WHERE task_id = ?`,
		task.Location,
		int(task.Step),
		boolToInt(task.StepInProgress),
		boolToInt(task.Requirements.NeedsColorChecker),
		boolToInt(task.Requirements.NeedsRawImages),
		task.Attempts,
		nullableString(task.LastError),
		nullableTime(task.DispatchedAt),
		nullableTime(task.HeartbeatAt),
		s.timestamp(),
		task.ID,
	)
	if err != nil {
		return persistence("replace", err)
	}
	return requireAffected(res, task.ID)
}

// Delete removes one task.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, "DELETE FROM tasks WHERE task_id = ?", id)
	if err != nil {
		return persistence("delete", err)
	}
	return requireAffected(res, id)
}

// List returns every task ordered by id.
func (s *SQLiteStore) List(ctx context.Context) ([]pipeline.Task, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+taskColumns+" FROM tasks ORDER BY task_id")
	if err != nil {
		return nil, persistence("list", err)
	}
	defer rows.Close()

	var tasks []pipeline.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, persistence("list", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("list", err)
	}
	return tasks, nil
}

const restartAssignments = "step = 0, step_in_progress = 0, attempts = 0, last_error = NULL, dispatched_at = NULL, heartbeat_at = NULL, updated_at = ?"

// Restart resets one task to NotStarted.
func (s *SQLiteStore) Restart(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, "UPDATE tasks SET "+restartAssignments+" WHERE task_id = ?", s.timestamp(), id)
	if err != nil {
		return persistence("restart", err)
	}
	return requireAffected(res, id)
}

// RestartAll resets every task to NotStarted.
func (s *SQLiteStore) RestartAll(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, "UPDATE tasks SET "+restartAssignments, s.timestamp())
	if err != nil {
		return 0, persistence("restart all", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, persistence("restart all", err)
	}
	return affected, nil
}

// ReportFailure records a failed job for a task still running step.
func (s *SQLiteStore) ReportFailure(ctx context.Context, id int64, step pipeline.StepIndex, message string) (bool, error) {
	res, err := s.exec(ctx, `UPDATE tasks SET
		step_in_progress = 0, attempts = attempts + 1, last_error = ?,
		dispatched_at = NULL, heartbeat_at = NULL, updated_at = ?
		WHERE task_id = ? AND step = ? AND step_in_progress = 1`,
		nullableString(message), s.timestamp(), id, int(step),
	)
	if err != nil {
		return false, persistence("report failure", err)
	}
	return affectedAny(res)
}

// TouchHeartbeat stamps heartbeat_at for a task still running step.
func (s *SQLiteStore) TouchHeartbeat(ctx context.Context, id int64, step pipeline.StepIndex) (bool, error) {
	now := s.timestamp()
	res, err := s.exec(ctx,
		"UPDATE tasks SET heartbeat_at = ?, updated_at = ? WHERE task_id = ? AND step = ? AND step_in_progress = 1",
		now, now, id, int(step),
	)
	if err != nil {
		return false, persistence("heartbeat", err)
	}
	return affectedAny(res)
}

func requireAffected(res sql.Result, id int64) error {
	ok, err := affectedAny(res)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(id)
	}
	return nil
}

func affectedAny(res sql.Result) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, persistence("rows affected", err)
	}
	return affected > 0, nil
}
