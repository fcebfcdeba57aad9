// Package logs locates photopipe log files and tails them for the CLI.
//
// Coordinator and worker processes write coordinator.log and worker.log into
// logging.log_dir; workers additionally tee each job into tasks/task-<id>.log.
// Tail prints the last lines of one of those files with bounded memory and,
// in follow mode, keeps streaming appended lines until the context ends.
package logs
