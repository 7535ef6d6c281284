// Package api defines the wire-format types shared by the daemon's HTTP
// server and the CLI, plus the HTTP client the CLI uses.
//
// # Key Types
//
// SubmitRequest/InstallRequest: request bodies, validated with
// go-playground/validator struct tags before they reach the workflow or
// model registry.
//
// TaskSummary/TaskView: transport representations of a tasks.Task. The
// summary omits UI logs and results so list responses stay small.
//
// ErrorResponse: the JSON error body. Kind carries the services error
// classification so clients can map it back to a sentinel.
//
// # Client
//
// Client wraps net/http with the daemon's routes. Non-2xx responses become
// *Error values that unwrap to the matching services sentinel (400 →
// ErrValidation, 404 → ErrNotFound, 409 → ErrBusy).
//
// # Design Notes
//
// DTOs use snake_case JSON tags to match the result files written by the
// pipeline. Timestamps use RFC3339 with milliseconds.
package api
