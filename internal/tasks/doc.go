// Package tasks tracks background jobs in memory: their lifecycle status,
// weighted progress, user-facing log entries, cancellation flags, and the
// external process (if any) currently running on their behalf.
//
// State is process-local and is lost on restart. Terminal tasks are removed
// by the reaper after a retention window. Every mutation is published as a
// task_update event so subscribers can follow progress live.
package tasks
