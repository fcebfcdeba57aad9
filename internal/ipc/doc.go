// Package ipc exposes daemon control over JSON-RPC on a Unix domain socket.
//
// The CLI uses it for `photopipe start`, `stop`, and `status`, and for task
// listing and restarts routed through the running daemon.
package ipc
