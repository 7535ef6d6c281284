package workflow

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"solasola/internal/fileutil"
	"solasola/internal/services"
)

// SeparationRequest asks for one audio file to be split into stems.
type SeparationRequest struct {
	Audio     string
	Model     string
	Device    string
	OutputDir string
}

// SeparationUpdate is one parsed progress report from the separator.
type SeparationUpdate struct {
	Stage    StageID
	SubStage int
	Percent  float64
	Message  string
}

// Separator splits a mixed recording into stem WAV files.
type Separator interface {
	Separate(ctx context.Context, req SeparationRequest, progress func(SeparationUpdate)) ([]string, error)
}

var separationPercent = regexp.MustCompile(`(\d+)%\|`)

// SeparationProgress turns separator console output into progress
// updates. Ensemble models run several passes; a pass boundary shows up as
// the percentage dropping back to zero after passing 90.
type SeparationProgress struct {
	ensemble  bool
	passes    int
	separate  bool
	downloads int
	pass      int
	last      int
}

// NewSeparationProgress creates a parser for model.
func NewSeparationProgress(model string) *SeparationProgress {
	p := &SeparationProgress{passes: 1, last: -1}
	if model == "htdemucs_ft" {
		p.ensemble = true
		p.passes = 4
	}
	return p
}

// Parse inspects one line and reports whether it carried progress.
func (p *SeparationProgress) Parse(line string) (SeparationUpdate, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return SeparationUpdate{}, false
	}
	if strings.Contains(line, "Downloading:") {
		p.downloads++
		return SeparationUpdate{
			Stage:    StagePrepareModel,
			SubStage: 1,
			Percent:  50,
			Message:  fmt.Sprintf("Downloading model file %d...", p.downloads),
		}, true
	}
	if strings.Contains(line, "Separating track") {
		p.separate = true
		p.pass = 0
	}
	match := separationPercent.FindStringSubmatch(line)
	if match == nil || !p.separate {
		return SeparationUpdate{}, false
	}
	percent, _ := strconv.Atoi(match[1])
	if percent == 0 && p.last > 90 {
		p.pass++
	}
	p.last = percent
	sub := p.pass + 1
	message := fmt.Sprintf("Separating instruments (%d%%)", percent)
	if p.ensemble {
		message = fmt.Sprintf("Ensemble processing (%d/%d) - %d%%", min(sub, p.passes), p.passes, percent)
	}
	return SeparationUpdate{Stage: StageSeparate, SubStage: sub, Percent: float64(percent), Message: message}, true
}

// Separate runs the separator and moves the resulting WAV files into
// req.OutputDir. It returns the stem paths, sorted.
func (t *ToolSet) Separate(ctx context.Context, req SeparationRequest, progress func(SeparationUpdate)) ([]string, error) {
	work, err := os.MkdirTemp(t.scratchRoot(), "solasola-demucs-")
	if err != nil {
		return nil, fmt.Errorf("create separation work dir: %w", err)
	}
	defer os.RemoveAll(work)

	args := []string{"-o", work, "-n", req.Model}
	if req.Device != "" {
		args = append(args, "-d", req.Device)
	}
	args = append(args, req.Audio)

	parser := NewSeparationProgress(req.Model)
	var mu sync.Mutex
	onLine := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		if update, ok := parser.Parse(line); ok && progress != nil {
			progress(update)
		}
	}
	err = t.run(ctx, "separator", t.Separator, args, "", onLine, onLine)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create stems dir: %w", err)
	}
	stems, err := collectWAVs(work, req.OutputDir)
	if err != nil {
		return nil, err
	}
	if len(stems) == 0 {
		return nil, services.Wrap(services.ErrExternalTool, "separator", "collect stems",
			"Stem separation failed to produce any files.", nil)
	}
	return stems, nil
}

// collectWAVs moves every .wav below src into dst, flattening the
// model/track directories the separator creates.
func collectWAVs(src, dst string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".wav") {
			return nil
		}
		target := filepath.Join(dst, d.Name())
		if err := os.Rename(path, target); err != nil {
			if err := fileutil.CopyFile(path, target); err != nil {
				return fmt.Errorf("move stem %s: %w", d.Name(), err)
			}
		}
		out = append(out, target)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
