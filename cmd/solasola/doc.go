// Package main hosts the solasola CLI entrypoint and command graph.
//
// The Cobra command tree runs the daemon in the foreground (serve), starts
// and stops it in the background, and translates every other invocation
// into HTTP calls against the daemon API: submitting processing jobs,
// following task progress, managing model artifacts, and tailing the event
// stream. Configuration resolution and client construction live in
// commandContext so subcommands stay focused on presentation.
package main
