// Package lyrics reads plain-text lyrics and spreads them evenly over a song
// as an SRT timing track.
package lyrics
