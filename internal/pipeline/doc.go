// Package pipeline defines the photogrammetry step state machine.
//
// The package owns the StepIndex enumeration, the static step catalog, the Task
// record with its derived folder paths, and the Step behavior table that
// answers two questions for every (task, step) pair: is the step finished on
// disk, and how is its work executed. Completion is always observed from the
// filesystem so that the coordinator can resume after a crash without any
// additional bookkeeping.
//
// Worker-side execution receives an explicit Env carrying the logger, the
// external tool client, and the template asset locations.
package pipeline
