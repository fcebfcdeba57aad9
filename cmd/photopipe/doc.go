// Package main hosts the photopipe CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the coordinator daemon and job workers in
// the foreground, talks to a running daemon over its IPC socket, and performs
// task maintenance directly against the configured task store. It centralizes
// configuration resolution, socket discovery, and output rendering so
// subcommands stay declarative.
//
// Add new behavior to the internal packages first, then surface it here
// through dedicated commands or flags.
package main
