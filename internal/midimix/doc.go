// Package midimix merges per-stem MIDI transcriptions into a single
// multi-track "Mix" file and reads playback length from standard MIDI files.
//
// Channel assignment is deterministic: a drums stem always plays on channel 9
// (the General MIDI percussion channel) and every other file takes the next
// free melodic channel in input order.
package midimix
