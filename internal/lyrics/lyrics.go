package lyrics

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"solasola/internal/services"
)

// Segment is one timed lyric line.
type Segment struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// Decode returns data as text. Valid UTF-8 (with or without a BOM) is used
// as is; anything else is decoded as Latin-1.
func Decode(data []byte) (string, string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data), "utf-8", nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", "", err
	}
	return string(decoded), "iso-8859-1", nil
}

// ReadLines reads the file at path and returns its non-empty lines, trimmed,
// together with the full decoded text and the encoding that was used.
func ReadLines(path string) ([]string, string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", "", services.Wrap(services.ErrValidation, "lyrics", "read", "lyrics file is unreadable", err)
	}
	text, encoding, err := Decode(data)
	if err != nil {
		return nil, "", "", services.Wrap(services.ErrValidation, "lyrics", "decode", "lyrics file is not text", err)
	}
	return Lines(text), text, encoding, nil
}

// Lines splits text into trimmed, non-empty lines.
func Lines(text string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// SplitEvenly gives every line an equal share of total. The last segment
// always ends exactly at total. No lines or a non-positive total yields nil.
func SplitEvenly(lines []string, total time.Duration) []Segment {
	if len(lines) == 0 || total <= 0 {
		return nil
	}
	per := float64(total) / float64(len(lines))
	segments := make([]Segment, len(lines))
	for i, line := range lines {
		end := time.Duration(float64(i+1) * per)
		if i == len(lines)-1 {
			end = total
		}
		segments[i] = Segment{
			Start: time.Duration(float64(i) * per),
			End:   end,
			Text:  line,
		}
	}
	return segments
}

// FormatTimestamp renders d as HH:MM:SS,mmm. Negative values clamp to zero.
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	hours := ms / 3_600_000
	minutes := ms / 60_000 % 60
	seconds := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, ms%1000)
}

// RenderSRT formats segments as an SRT document without a trailing blank line.
func RenderSRT(segments []Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s", i+1, FormatTimestamp(seg.Start), FormatTimestamp(seg.End), seg.Text)
	}
	return b.String()
}

var (
	blockSep   = regexp.MustCompile(`\n\s*\n`)
	timingLine = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2}),(\d{3})\s*-->\s*(\d{2}):(\d{2}):(\d{2}),(\d{3})`)
)

// ParseSRT reads SRT content back into segments. Malformed blocks are skipped.
func ParseSRT(content string) []Segment {
	content = strings.TrimSpace(strings.ReplaceAll(content, "\r\n", "\n"))
	var segments []Segment
	for _, block := range blockSep.Split(content, -1) {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 2 {
			continue
		}
		m := timingLine.FindStringSubmatch(strings.TrimSpace(lines[1]))
		if m == nil {
			continue
		}
		segments = append(segments, Segment{
			Start: clock(m[1:5]),
			End:   clock(m[5:9]),
			Text:  strings.Join(lines[2:], " "),
		})
	}
	return segments
}

func clock(parts []string) time.Duration {
	var v [4]int
	for i, p := range parts {
		v[i], _ = strconv.Atoi(p)
	}
	return time.Duration(v[0])*time.Hour +
		time.Duration(v[1])*time.Minute +
		time.Duration(v[2])*time.Second +
		time.Duration(v[3])*time.Millisecond
}

// WordCount counts whitespace-separated words across segments.
func WordCount(segments []Segment) int {
	n := 0
	for _, seg := range segments {
		n += len(strings.Fields(seg.Text))
	}
	return n
}

// Covered returns the total time covered by segments.
func Covered(segments []Segment) time.Duration {
	var total time.Duration
	for _, seg := range segments {
		if seg.End > seg.Start {
			total += seg.End - seg.Start
		}
	}
	return total
}
