package workflow

import (
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"gitlab.com/gomidi/midi/v2/smf"
)

// UntitledProject names a job whose filenames share no useful prefix.
const UntitledProject = "Untitled Project"

// DefaultStem is the stem name of a file that does not follow the
// "Title (Stem)" or "Title - Stem" convention.
const DefaultStem = "full_mix"

var (
	audioExtensions  = []string{".mp3", ".wav", ".flac", ".m4a", ".aac"}
	midiExtensions   = []string{".mid", ".midi"}
	lyricsExtensions = []string{".txt"}

	// A hyphen only separates the stem when surrounded by spaces so that
	// hyphenated titles survive.
	titleStemPattern = regexp.MustCompile(`^(?P<title>.+?)\s*(?:\((?P<stem_paren>[^)]+)\)|\s+-\s+(?P<stem_hyphen>.+?))$`)
)

// KindForPath classifies a path by extension.
func KindForPath(path string) (InputKind, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case slices.Contains(audioExtensions, ext):
		return KindAudio, true
	case slices.Contains(midiExtensions, ext):
		return KindMIDI, true
	case slices.Contains(lyricsExtensions, ext):
		return KindLyrics, true
	}
	return "", false
}

// Classify sorts paths into audio, MIDI and lyrics inputs. MIDI files must
// parse; everything else is accepted on extension alone. Paths that do not
// qualify are returned as unsupported.
func Classify(paths []string) (ClassifiedFiles, []string) {
	var files ClassifiedFiles
	var unsupported []string
	for _, path := range paths {
		kind, ok := KindForPath(path)
		if ok && kind == KindMIDI {
			if _, err := smf.ReadFile(path); err != nil {
				ok = false
			}
		}
		if !ok {
			unsupported = append(unsupported, path)
			continue
		}
		files.Add(InputFile{Path: path, Name: filepath.Base(path), Kind: kind})
	}
	return files, unsupported
}

// ParseTitleAndStem splits a filename such as "My Song (Vocals).wav" or
// "My Song - Bass.mp3" into its title and lower-cased stem.
func ParseTitleAndStem(name string) (string, string) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	match := titleStemPattern.FindStringSubmatch(base)
	if match == nil {
		return base, DefaultStem
	}
	title := strings.TrimSpace(match[titleStemPattern.SubexpIndex("title")])
	stem := match[titleStemPattern.SubexpIndex("stem_paren")]
	if stem == "" {
		stem = match[titleStemPattern.SubexpIndex("stem_hyphen")]
	}
	return title, strings.ToLower(strings.TrimSpace(stem))
}

// CommonTitle derives a project title from filenames: a single file keeps
// its own name, several files use their shared prefix when it is longer
// than two characters.
func CommonTitle(names []string) string {
	if len(names) == 0 {
		return UntitledProject
	}
	stems := make([]string, len(names))
	for i, name := range names {
		base := filepath.Base(name)
		stems[i] = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if len(stems) == 1 {
		return stems[0]
	}
	prefix := []rune(stems[0])
	for _, stem := range stems[1:] {
		runes := []rune(stem)
		n := 0
		for n < len(prefix) && n < len(runes) && prefix[n] == runes[n] {
			n++
		}
		prefix = prefix[:n]
	}
	cleaned := strings.TrimSpace(strings.TrimRight(string(prefix), " _-("))
	if len([]rune(cleaned)) > 2 {
		return cleaned
	}
	return UntitledProject
}

// GroupSongs parses stems and groups every file into a single song. The
// title is the override when set, otherwise the common title of the music
// files (or of the lyrics files when there is no music).
func GroupSongs(files ClassifiedFiles, override string) []Song {
	parsed := ClassifiedFiles{Lyrics: slices.Clone(files.Lyrics)}
	var musicNames []string
	for _, f := range append(slices.Clone(files.Audio), files.MIDI...) {
		f.Title, f.Stem = ParseTitleAndStem(f.Name)
		parsed.Add(f)
		musicNames = append(musicNames, f.Name)
	}
	title := strings.TrimSpace(override)
	if title == "" {
		if len(musicNames) == 0 {
			for _, f := range files.Lyrics {
				musicNames = append(musicNames, f.Name)
			}
		}
		title = CommonTitle(musicNames)
	}
	return []Song{{Index: 1, Title: title, Files: parsed}}
}
