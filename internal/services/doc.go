// Package services defines shared helpers used by the coordinator, the
// workers, and the persistence layer.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, step names, job kinds, and
//     correlation identifiers for logging.
//   - Sentinel error markers plus the Wrap helper so failures can be
//     classified (configuration, persistence, dispatch, step execution)
//     without string matching.
//
// Use these helpers when adding new pipeline logic so error handling and
// observability stay uniform across the coordinator and workers.
package services
