package jobqueue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"photopipe/internal/pipeline"
	"photopipe/internal/services"
)

// Job is one unit of work on the stream. Task is a snapshot taken at
// dispatch time; workers must not treat it as current state.
type Job struct {
	ID            string            `json:"job_id"`
	Kind          pipeline.JobKind  `json:"kind"`
	Task          pipeline.Task     `json:"task"`
	Image         string            `json:"image,omitempty"`
	Payload       map[string]string `json:"payload,omitempty"`
	DispatchedAt  time.Time         `json:"dispatched_at"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// NewJob builds a job for the task's current step. image is empty for
// whole-step jobs.
func NewJob(kind pipeline.JobKind, task pipeline.Task, image string) Job {
	return Job{
		ID:           ulid.Make().String(),
		Kind:         kind,
		Task:         task,
		Image:        image,
		DispatchedAt: time.Now().UTC(),
	}
}

// WithCorrelation tags the job with the dispatching cycle's id. An empty id
// generates a fresh one.
func (j Job) WithCorrelation(id string) Job {
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	j.CorrelationID = id
	return j
}

// Step resolves the pipeline step the job belongs to.
func (j Job) Step() (pipeline.StepIndex, bool) {
	return pipeline.StepForJobKind(j.Kind)
}

// Validate checks the job can be executed.
func (j Job) Validate() error {
	step, ok := j.Step()
	if !ok {
		return services.Wrap(services.ErrValidation, "jobqueue", "validate", fmt.Sprintf("unknown job kind %q", j.Kind), nil)
	}
	if j.Task.ID <= 0 {
		return services.Wrap(services.ErrValidation, "jobqueue", "validate", "job has no task id", nil)
	}
	if j.Task.Step != step {
		return services.Wrap(services.ErrValidation, "jobqueue", "validate",
			fmt.Sprintf("job kind %s does not match task step %s", j.Kind, j.Task.Step), nil)
	}
	meta, err := pipeline.MetadataFor(step)
	if err != nil {
		return err
	}
	if meta.Unit == pipeline.UnitPerImage && strings.TrimSpace(j.Image) == "" {
		return services.Wrap(services.ErrValidation, "jobqueue", "validate", fmt.Sprintf("%s job requires an image", j.Kind), nil)
	}
	return nil
}

// Encode serializes the job for the stream.
func (j Job) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// DecodeJob parses a stream payload.
func DecodeJob(data []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, services.Wrap(services.ErrValidation, "jobqueue", "decode", "malformed job payload", err)
	}
	return job, nil
}
