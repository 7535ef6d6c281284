package notation

import (
	"bufio"
	"cmp"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var tempoField = regexp.MustCompile(`(?m)^Q:\s*(?:\d+/\d+\s*=\s*)?(\d+)`)

// PostProcess cleans raw midi2abc output: the generated title becomes title,
// "% Last note suggests" hints are dropped, and only the first
// "%%MIDI program" line of each voice is kept.
func PostProcess(abc, title string) string {
	var out []string
	seenProgram := false
	scanner := bufio.NewScanner(strings.NewReader(abc))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "T:"):
			out = append(out, "T: "+title)
			continue
		case strings.HasPrefix(trimmed, "% Last note suggests"):
			continue
		case strings.HasPrefix(trimmed, "V:"):
			seenProgram = false
		case strings.HasPrefix(trimmed, "%%MIDI program"):
			if seenProgram {
				continue
			}
			seenProgram = true
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

var leadingParts = []string{"mix", "vocals", "drums", "bass"}

// Order returns part names in presentation order: Mix, vocals, drums, bass,
// then everything else alphabetically.
func Order(parts []string) []string {
	rank := func(part string) int {
		lower := strings.ToLower(part)
		for i, lead := range leadingParts {
			if lower == lead {
				return i
			}
		}
		return len(leadingParts)
	}
	out := slices.Clone(parts)
	slices.SortStableFunc(out, func(a, b string) int {
		if c := cmp.Compare(rank(a), rank(b)); c != 0 {
			return c
		}
		return cmp.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	return out
}

// Tempo returns the beats per minute declared by the first Q: field.
func Tempo(abc string) (int, bool) {
	match := tempoField.FindStringSubmatch(abc)
	if match == nil {
		return 0, false
	}
	bpm, err := strconv.Atoi(match[1])
	if err != nil || bpm <= 0 {
		return 0, false
	}
	return bpm, true
}
