// Package notation turns MIDI parts into ABC scores with the midi2abc tool
// and stores them alongside the other result assets.
package notation
