package workflow

import (
	"fmt"
	"strings"

	"solasola/internal/cache"
	"solasola/internal/fingerprint"
	"solasola/internal/profile"
	"solasola/internal/services"
)

// Mode selects how much of the pipeline runs.
type Mode string

const (
	ModeFullAnalysis Mode = fingerprint.ModeFullAnalysis
	ModeLyricsOnly   Mode = fingerprint.ModeLyricsOnly
)

// ParseMode accepts the canonical mode names plus a few short aliases.
// An empty value selects full analysis.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "full_analysis", "full", "abc":
		return ModeFullAnalysis, nil
	case "lyrics_only", "lyrics":
		return ModeLyricsOnly, nil
	default:
		return "", services.Wrap(services.ErrValidation, "workflow", "parse mode", fmt.Sprintf("unknown mode %q", value), nil)
	}
}

// Label is the human-readable mode name stored in result metadata.
func (m Mode) Label(model string) string {
	if m == ModeLyricsOnly {
		return "Lyrics File Simple Split"
	}
	if model == "htdemucs_ft" {
		return "Full Analysis (High Quality)"
	}
	return "Full Analysis (Fast)"
}

// InputKind classifies an input file.
type InputKind string

const (
	KindAudio  InputKind = "audio"
	KindMIDI   InputKind = "midi"
	KindLyrics InputKind = "lyrics"
)

// InputFile is one user-supplied file.
type InputFile struct {
	Path string    `json:"path"`
	Name string    `json:"name"`
	Kind InputKind `json:"kind"`
	// Title and Stem are parsed from Name for audio and MIDI files.
	Title string `json:"title,omitempty"`
	Stem  string `json:"stem,omitempty"`
}

// ClassifiedFiles groups inputs by kind, preserving submission order.
type ClassifiedFiles struct {
	Audio  []InputFile `json:"audio"`
	MIDI   []InputFile `json:"midi"`
	Lyrics []InputFile `json:"lyrics"`
}

// Add appends f to the slice for its kind.
func (c *ClassifiedFiles) Add(f InputFile) {
	switch f.Kind {
	case KindAudio:
		c.Audio = append(c.Audio, f)
	case KindMIDI:
		c.MIDI = append(c.MIDI, f)
	case KindLyrics:
		c.Lyrics = append(c.Lyrics, f)
	}
}

// All returns audio, then MIDI, then lyrics files.
func (c ClassifiedFiles) All() []InputFile {
	out := make([]InputFile, 0, len(c.Audio)+len(c.MIDI)+len(c.Lyrics))
	out = append(out, c.Audio...)
	out = append(out, c.MIDI...)
	return append(out, c.Lyrics...)
}

// Empty reports whether no file of any kind is present.
func (c ClassifiedFiles) Empty() bool {
	return len(c.Audio) == 0 && len(c.MIDI) == 0 && len(c.Lyrics) == 0
}

// Job is one submission.
type Job struct {
	Files            ClassifiedFiles
	Mode             Mode
	Model            string
	Device           string
	TitleOverride    string
	KeepModelsCached bool
}

// Song is the unit the pipeline processes: a title plus the files that
// belong to it.
type Song struct {
	Index int
	Title string
	Files ClassifiedFiles
}

// SongResult is what a finished song contributes to the task results.
type SongResult struct {
	Title        string                      `json:"title"`
	ResultDir    string                      `json:"result_dir"`
	Fingerprint  string                      `json:"fingerprint"`
	Profile      profile.SongProfile         `json:"song_profile"`
	Genres       []profile.Genre             `json:"genres,omitempty"`
	LyricsSRT    string                      `json:"lyrics_srt,omitempty"`
	LyricsSource string                      `json:"lyrics_source,omitempty"`
	ABC          map[string]string           `json:"abc_notation,omitempty"`
	ABCOrder     []string                    `json:"abc_order,omitempty"`
	Chords       map[string]string           `json:"chords,omitempty"`
	Stems        []string                    `json:"stem_files,omitempty"`
	MIDI         []string                    `json:"midi_files,omitempty"`
	Provenance   map[string]cache.Provenance `json:"cache_provenance"`
	InfoPath     string                      `json:"info_path"`
}
