package notation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"solasola/internal/logging"
	"solasola/internal/midimix"
	"solasola/internal/services"
	"solasola/internal/stageexec"
)

// Extension is the file extension of stored scores.
const Extension = ".abc"

// Generator runs midi2abc over MIDI parts.
type Generator struct {
	// Command is the converter command line; "<mid> -o <abc>" is appended.
	Command []string
	Runner  stageexec.Runner
	// TempDir receives the raw converter output. Defaults to os.TempDir().
	TempDir string
	Logger  *slog.Logger
}

// Generate converts each MIDI file and returns the cleaned scores keyed by
// part name (the file name without extension). Parts with no notes, failed
// conversions, and empty output are logged and skipped; only cancellation
// is returned as an error.
func (g *Generator) Generate(ctx context.Context, midiPaths []string, title string) (map[string]string, error) {
	logger := logging.WithContext(ctx, logging.NewComponentLogger(g.Logger, "notation"))
	if len(g.Command) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "notation", "generate", "notation command is not configured", nil)
	}
	runner := g.Runner
	if runner == nil {
		runner = stageexec.Run
	}
	tempDir := g.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	workDir, err := os.MkdirTemp(tempDir, "solasola-abc-")
	if err != nil {
		return nil, fmt.Errorf("create notation work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	scores := make(map[string]string)
	for _, midiPath := range midiPaths {
		if err := ctx.Err(); err != nil {
			return nil, services.Wrap(services.ErrCancelled, "notation", "generate", "cancelled", err)
		}
		part := strings.TrimSuffix(filepath.Base(midiPath), filepath.Ext(midiPath))
		partLogger := logger.With(logging.String("part", part))

		if ok, err := midimix.HasNotes(midiPath); err != nil || !ok {
			partLogger.Info("skipping empty or unreadable MIDI part", logging.Error(err))
			continue
		}

		abcPath := filepath.Join(workDir, part+Extension)
		args := append(slices.Clone(g.Command[1:]), midiPath, "-o", abcPath)
		err := runner(ctx, stageexec.Command{Name: g.Command[0], Args: args}, stageexec.Options{Logger: partLogger})
		if err != nil {
			if services.IsCancelled(err) {
				return nil, err
			}
			logging.WarnWithContext(partLogger, "notation conversion failed", "notation_part_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "score for this part is missing"),
			)
			continue
		}
		raw, err := os.ReadFile(abcPath)
		if err != nil || len(strings.TrimSpace(string(raw))) == 0 {
			partLogger.Warn("notation converter produced no output", logging.Error(err))
			continue
		}
		scores[part] = PostProcess(string(raw), fmt.Sprintf("%s (%s)", title, part))
		partLogger.Debug("part converted to ABC")
	}
	return scores, nil
}

// WriteScores stores each score as <part>.abc in dir and returns the paths
// in presentation order.
func WriteScores(dir string, scores map[string]string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure notation dir: %w", err)
	}
	parts := make([]string, 0, len(scores))
	for part := range scores {
		parts = append(parts, part)
	}
	var paths []string
	for _, part := range Order(parts) {
		path := filepath.Join(dir, part+Extension)
		if err := os.WriteFile(path, []byte(scores[part]), 0o644); err != nil {
			return nil, fmt.Errorf("write score %s: %w", part, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// ReadScores loads every .abc file in dir, keyed by part name. A missing
// directory yields an empty map.
func ReadScores(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	scores := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != Extension {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read score %s: %w", entry.Name(), err)
		}
		scores[strings.TrimSuffix(entry.Name(), Extension)] = string(data)
	}
	return scores, nil
}
