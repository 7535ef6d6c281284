package stageexec

import (
	"bytes"
	"strings"
	"sync"
)

// StderrLimit bounds how much standard error is retained per stage.
const StderrLimit = 64 * 1024

const stdoutTailLines = 20

// tailBuffer keeps the most recent limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// lineTail remembers the last n non-empty lines.
type lineTail struct {
	n     int
	lines []string
}

func (l *lineTail) add(line string) {
	l.lines = append(l.lines, line)
	if len(l.lines) > l.n {
		l.lines = l.lines[len(l.lines)-l.n:]
	}
}

func (l *lineTail) String() string {
	return strings.Join(l.lines, "\n")
}

// scanLinesOrCR is a bufio.SplitFunc that ends a token at either '\r' or
// '\n'. A "\r\n" pair yields an empty token, which callers skip.
func scanLinesOrCR(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func lastLine(text string) string {
	lines := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' })
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// lineWriter calls fn for every non-empty line written to it, splitting on
// '\r' or '\n'. A trailing partial line is delivered by flush.
type lineWriter struct {
	fn      func(string)
	pending []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexAny(w.pending, "\r\n")
		if i < 0 {
			break
		}
		w.emit(w.pending[:i])
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.emit(w.pending)
	w.pending = nil
}

func (w *lineWriter) emit(line []byte) {
	if text := strings.TrimSpace(string(line)); text != "" {
		w.fn(text)
	}
}
