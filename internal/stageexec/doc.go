// Package stageexec runs external pipeline stages (separators, transcribers,
// analyzers, installers) as child processes.
//
// Each stage runs in its own process group so cancellation reaches every
// helper it spawns. Standard output is streamed line by line, treating
// carriage returns as line breaks so progress bars are visible while they
// redraw. Standard error is kept as a bounded tail for diagnostics. Failed
// stages surface as *StageError, preferring the structured error artifact a
// stage writes over raw output.
package stageexec
