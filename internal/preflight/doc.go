// Package preflight runs the environment checks behind `photopipe check`.
//
// Checks cover data and log directory permissions, the template assets copied
// into every task, the external tool binaries, and reachability of the task
// store and Redis. Each check returns a Result instead of an error so the CLI
// can print a full report.
package preflight
