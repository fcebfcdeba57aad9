// Package jobqueue carries pipeline jobs from the coordinator to workers over
// a Redis stream.
//
// The coordinator appends jobs with XADD and never waits for a reply.
// Workers share one consumer group, so every job is delivered to exactly one
// consumer; a consumer first drains anything it left unacknowledged before a
// restart, then blocks for new entries. Delivery is at least once: handlers
// must tolerate a job whose work is already on disk, which pipeline steps do
// by re-checking their outputs.
package jobqueue
