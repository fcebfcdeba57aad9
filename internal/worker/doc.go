// Package worker executes pipeline jobs pulled from the job queue.
//
// A worker re-reads the task before running a job, so a job whose task has
// since moved to another step (or was deleted) is dropped instead of executed.
// While a job runs the worker touches the task heartbeat, and a failing step
// is reported back through the task store so the coordinator can dispatch it
// again.
package worker
