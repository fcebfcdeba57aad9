// Package daemon hosts the long-running photopipe coordinator process.
//
// It wires configuration, the task store, the job queue and the coordinator
// loop into a single lifecycle with flock-based locking so only one
// coordinator advances tasks at a time. The daemon also serves the HTTP API
// (task CRUD, status, Prometheus metrics) and schedules log retention.
//
// Keep orchestration here: step semantics live in pipeline and decision
// making in coordinator.
package daemon
