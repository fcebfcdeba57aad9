package taskstore

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"photopipe/internal/pipeline"
)

func taskArgs(task pipeline.Task) []any {
	return []any{
		task.ID,
		task.Location,
		int(task.Step),
		boolToInt(task.StepInProgress),
		boolToInt(task.Requirements.NeedsColorChecker),
		boolToInt(task.Requirements.NeedsRawImages),
		task.Attempts,
		nullableString(task.LastError),
		nullableTime(task.DispatchedAt),
		nullableTime(task.HeartbeatAt),
	}
}

func scanTask(scanner interface{ Scan(dest ...any) error }) (pipeline.Task, error) {
	var (
		id                int64
		location          string
		step              int
		inProgress        int
		needsColorChecker int
		needsRawImages    int
		attempts          int
		lastError         sql.NullString
		dispatchedRaw     sql.NullString
		heartbeatRaw      sql.NullString
		createdRaw        string
		updatedRaw        string
	)
	if err := scanner.Scan(
		&id,
		&location,
		&step,
		&inProgress,
		&needsColorChecker,
		&needsRawImages,
		&attempts,
		&lastError,
		&dispatchedRaw,
		&heartbeatRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return pipeline.Task{}, err
	}

	task := pipeline.Task{
		ID:             id,
		Location:       location,
		Step:           pipeline.StepIndex(step),
		StepInProgress: inProgress != 0,
		Requirements: pipeline.Requirements{
			NeedsColorChecker: needsColorChecker != 0,
			NeedsRawImages:    needsRawImages != 0,
		},
		Attempts:     attempts,
		LastError:    lastError.String,
		DispatchedAt: parseNullTime(dispatchedRaw),
		HeartbeatAt:  parseNullTime(heartbeatRaw),
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		task.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		task.UpdatedAt = updated
	}
	return task, nil
}

func parseNullTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	ts, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &ts
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed")
}
