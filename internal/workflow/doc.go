// Package workflow turns a submitted job into finished result directories.
//
// The Manager validates the job, registers a processing task, and runs the
// song pipeline on its own goroutine: duration validation, stem separation,
// transcription to MIDI, notation, music analysis, and finalization. Each
// cacheable step first asks the cache resolver for a reusable copy and only
// invokes the external collaborator on a miss. Progress is reported against
// a per-task layout so the overall percentage never moves backwards.
//
// External collaborators (separator, transcriber, genre classifier,
// analyzer, duration prober) are interfaces; ToolSet provides the
// subprocess-backed implementations built from configuration.
package workflow
