package profile

import (
	"fmt"
	"strings"
	"time"

	"solasola/internal/lyrics"
)

// NotAnalyzed marks a profile field whose analysis failed or did not run.
const NotAnalyzed = "Not Analyzed"

// Genre is one classifier prediction.
type Genre struct {
	Label       string  `json:"genre"`
	Probability float64 `json:"probability"`
}

// Analysis is what the chord/key/tempo analyzer reports.
type Analysis struct {
	Tempo             string `json:"tempo,omitempty"`
	Key               string `json:"key,omitempty"`
	TimeSignature     string `json:"time_signature,omitempty"`
	SongStructure     string `json:"song_structure,omitempty"`
	DetailedChordsSRT string `json:"detailed_sync_chords_srt,omitempty"`
	SimpleChordsSRT   string `json:"simple_sync_chords_srt,omitempty"`
	ChordGrid         string `json:"chord_grid_text,omitempty"`
}

// Inputs feeds BuildSongProfile.
type Inputs struct {
	Duration time.Duration
	Genres   []Genre
	Analysis Analysis
	Lyrics   []lyrics.Segment
}

// SongProfile is the summary shown to users and stored in info.json.
type SongProfile struct {
	Duration      string `json:"Duration,omitempty"`
	PrimaryGenre  string `json:"Genre - AI Estimated"`
	Tempo         string `json:"Tempo"`
	Key           string `json:"Key"`
	TimeSignature string `json:"Time Signature"`
	SongStructure string `json:"Song Structure"`
	VocalActivity string `json:"Vocal Activity,omitempty"`
	LyricDensity  string `json:"Lyric Density,omitempty"`
}

// Field is one labelled profile value.
type Field struct {
	Label string
	Value string
}

// Fields lists the populated profile values in display order.
func (p SongProfile) Fields() []Field {
	all := []Field{
		{"Duration", p.Duration},
		{"Genre - AI Estimated", p.PrimaryGenre},
		{"Tempo", p.Tempo},
		{"Key", p.Key},
		{"Time Signature", p.TimeSignature},
		{"Song Structure", p.SongStructure},
		{"Vocal Activity", p.VocalActivity},
		{"Lyric Density", p.LyricDensity},
	}
	out := all[:0]
	for _, f := range all {
		if f.Value != "" {
			out = append(out, f)
		}
	}
	return out
}

// BuildSongProfile summarises the analysis results for one song.
func BuildSongProfile(in Inputs) SongProfile {
	p := SongProfile{
		PrimaryGenre:  formatGenres(in.Genres),
		Tempo:         orNotAnalyzed(in.Analysis.Tempo),
		Key:           orNotAnalyzed(in.Analysis.Key),
		TimeSignature: orNotAnalyzed(in.Analysis.TimeSignature),
		SongStructure: orNotAnalyzed(in.Analysis.SongStructure),
	}
	if in.Duration > 0 {
		p.Duration = FormatDuration(in.Duration)
	}
	if len(in.Lyrics) > 0 && in.Duration > 0 {
		vocal := lyrics.Covered(in.Lyrics)
		p.VocalActivity = fmt.Sprintf("%.1f%%", vocal.Seconds()/in.Duration.Seconds()*100)
		if vocal > 0 {
			wpm := float64(lyrics.WordCount(in.Lyrics)) / vocal.Seconds() * 60
			p.LyricDensity = fmt.Sprintf("%d words/min", int(wpm))
		}
	}
	return p
}

// FormatDuration renders d as M:SS.
func FormatDuration(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func formatGenres(genres []Genre) string {
	if len(genres) == 0 {
		return NotAnalyzed
	}
	parts := make([]string, 0, len(genres))
	for _, g := range genres {
		parts = append(parts, fmt.Sprintf("%s (%.0f%%)", titleCaser.String(g.Label), g.Probability*100))
	}
	return strings.Join(parts, ", ")
}

func orNotAnalyzed(v string) string {
	if strings.TrimSpace(v) == "" {
		return NotAnalyzed
	}
	return v
}
