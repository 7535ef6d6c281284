// Package profile builds the human-readable song profile and writes the
// info.json and info.txt files that describe a result directory.
package profile
