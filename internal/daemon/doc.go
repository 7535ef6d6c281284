// Package daemon coordinates the long-running solasola process.
//
// It holds the single-instance flock, runs the task reaper, the Xet scratch
// actor, and the optional startup model sweep, and serves the HTTP API on a
// chi router. Handlers translate services error markers into status codes
// (validation 400, not found 404, busy 409, everything else 500) and the
// event broadcaster is exposed as server-sent events on /api/events.
//
// Keep orchestration logic here: pipeline stages live in workflow and model
// management in models, while the daemon focuses on startup, shutdown, and
// the transport surface.
package daemon
