package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"solasola/internal/midimix"
	"solasola/internal/services"
)

// Probe measures audio with ffprobe and MIDI by walking its tempo map.
func (t *ToolSet) Probe(ctx context.Context, file InputFile) (time.Duration, error) {
	if file.Kind == KindMIDI {
		return midimix.Duration(file.Path)
	}
	var last string
	args := []string{"-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", file.Path}
	if err := t.run(ctx, "ffprobe", t.FFprobe, args, "", func(line string) { last = line }, nil); err != nil {
		return 0, err
	}
	return parseProbeOutput(last)
}

func parseProbeOutput(output string) (time.Duration, error) {
	value := strings.TrimSpace(output)
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, services.Wrap(services.ErrExternalTool, "ffprobe", "parse duration", fmt.Sprintf("unexpected ffprobe output %q", value), err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
