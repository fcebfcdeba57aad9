// Package coordinator runs the polling loop that moves tasks through the
// pipeline.
//
// Every cycle lists all tasks, builds the Step for each, and makes exactly one
// decision per task: skip, wait, advance, dispatch, requeue, or hold. Step
// completion is observed on the filesystem, never reported by workers, so a
// crashed coordinator resumes by re-reading the same state. Workers signal
// failures and liveness through the task store; the coordinator requeues
// in-progress tasks whose heartbeat went stale and holds tasks that exhausted
// their attempts until an operator restarts them.
package coordinator
