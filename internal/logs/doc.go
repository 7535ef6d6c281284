// Package logs reads the daemon log file for the CLI.
//
// Last returns the final lines of the file with bounded memory, ReadFrom
// continues from a byte offset, and Follow polls for appended lines until
// its context ends. A file that shrinks below the saved offset is treated
// as rotated and re-read from the start.
package logs
