// Package taskstore persists pipeline tasks and the task id sequence.
//
// Two backends satisfy Backend: an embedded SQLite database (the default,
// migrated through golang-migrate on open) and MongoDB, which stores one
// document per task plus a single sequence document. Callers outside this
// package go through Adapter, which wraps every operation in the uniform
// Result envelope shared by the CLI and HTTP API.
package taskstore
