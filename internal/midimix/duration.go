package midimix

import (
	"fmt"
	"sort"
	"time"

	"gitlab.com/gomidi/midi/v2/smf"
)

const defaultTempoMicros = 500000 // 120 BPM

type tempoChange struct {
	tick   int64
	micros uint32
}

// Duration returns the playback length of the MIDI file at path, following
// every tempo change. Files with SMPTE time division are rejected.
func Duration(path string) (time.Duration, error) {
	file, err := smf.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read MIDI %s: %w", path, err)
	}
	return FileDuration(file)
}

// FileDuration is Duration for an already-parsed file.
func FileDuration(file *smf.SMF) (time.Duration, error) {
	mt, ok := file.TimeFormat.(smf.MetricTicks)
	if !ok || mt == 0 {
		return 0, fmt.Errorf("unsupported MIDI time format %v", file.TimeFormat)
	}

	var (
		changes []tempoChange
		end     int64
	)
	for _, track := range file.Tracks {
		var tick int64
		for _, ev := range track {
			tick += int64(ev.Delta)
			if micros, ok := tempoMicros(ev.Message); ok {
				changes = append(changes, tempoChange{tick: tick, micros: micros})
			}
		}
		end = max(end, tick)
	}
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].tick < changes[j].tick })

	var (
		total   float64
		last    int64
		current = uint32(defaultTempoMicros)
	)
	for _, change := range changes {
		if change.tick >= end {
			break
		}
		total += float64(change.tick-last) * float64(current) / float64(mt)
		last, current = change.tick, change.micros
	}
	total += float64(end-last) * float64(current) / float64(mt)
	return time.Duration(total * float64(time.Microsecond)), nil
}

// HasNotes reports whether the file at path contains any note events.
func HasNotes(path string) (bool, error) {
	file, err := smf.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read MIDI %s: %w", path, err)
	}
	for _, track := range file.Tracks {
		for _, ev := range track {
			if isNote(ev.Message) {
				return true, nil
			}
		}
	}
	return false, nil
}
