package ipc

import (
	"photopipe/internal/coordinator"
	"photopipe/internal/daemon"
	"photopipe/internal/pipeline"
)

// ServiceName is the RPC receiver name registered by the server.
const ServiceName = "Photopipe"

// StartRequest triggers coordinator startup.
type StartRequest struct{}

// StartResponse indicates whether the coordinator was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the coordinator.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon and coordinator status.
type StatusResponse struct {
	Running      bool                      `json:"running"`
	PID          int                       `json:"pid"`
	Coordinator  coordinator.StatusSummary `json:"coordinator"`
	StoreBackend string                    `json:"store_backend"`
	DatabasePath string                    `json:"database_path,omitempty"`
	LockPath     string                    `json:"lock_path"`
	Queue        *daemon.QueueStatus       `json:"queue,omitempty"`
	TaskCounts   map[string]int            `json:"task_counts,omitempty"`
}

// TaskListRequest lists tasks, optionally only those at the given steps.
type TaskListRequest struct {
	Steps []int `json:"steps,omitempty"`
}

// TaskListResponse contains tasks ordered by id.
type TaskListResponse struct {
	Tasks []pipeline.Task `json:"tasks"`
}

// TaskRestartRequest restarts one task, or every task when All is set.
type TaskRestartRequest struct {
	ID  int64 `json:"id,omitempty"`
	All bool  `json:"all,omitempty"`
}

// TaskRestartResponse reports how many tasks were reset.
type TaskRestartResponse struct {
	Restarted int64  `json:"restarted"`
	Message   string `json:"message"`
}
