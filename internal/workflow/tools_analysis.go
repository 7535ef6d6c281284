package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"solasola/internal/profile"
	"solasola/internal/services"
)

// Transcriber converts one audio stem into a MIDI file.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, outputPath string) error
}

// GenreClassifier estimates the genre of a recording.
type GenreClassifier interface {
	Classify(ctx context.Context, audioPath string) ([]profile.Genre, error)
}

// AnalysisRequest names the material the analyzer may inspect. Either
// field may be empty.
type AnalysisRequest struct {
	Audio string
	MIDI  string
}

// Analyzer extracts tempo, key, meter, structure and chords.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (profile.Analysis, error)
}

// Transcribe runs the transcriber. The tool writes its error artifact next
// to the output as <name>.error.json.
func (t *ToolSet) Transcribe(ctx context.Context, audioPath, outputPath string) error {
	artifact := strings.TrimSuffix(outputPath, ".mid") + ".error.json"
	args := []string{"--audio_path", audioPath, "--output_path", outputPath}
	err := t.run(ctx, "transcriber", t.Transcriber, args, artifact, nil, nil)
	_ = os.Remove(artifact)
	if err != nil {
		return err
	}
	if info, statErr := os.Stat(outputPath); statErr != nil || info.Size() == 0 {
		return services.Wrap(services.ErrExternalTool, "transcriber", "verify output",
			"The transcriber did not produce a MIDI file", statErr)
	}
	return nil
}

type genreOutput struct {
	Genres []profile.Genre `json:"genres"`
	Error  *string         `json:"error"`
}

// Classify runs the genre classifier, which always writes a JSON result
// and reports failures inside it.
func (t *ToolSet) Classify(ctx context.Context, audioPath string) ([]profile.Genre, error) {
	output, cleanup, err := t.scratchFile("solasola-genre-*.json")
	if err != nil {
		return nil, fmt.Errorf("create genre output: %w", err)
	}
	defer cleanup()
	taskID, _ := services.TaskIDFromContext(ctx)
	args := []string{"--audio_path", audioPath, "--output_path", output, "--task_id", taskID}
	if t.GenreModelDir != "" {
		args = append(args, "--model_path", t.GenreModelDir)
	}
	if err := t.run(ctx, "genre", t.GenreClassifier, args, "", nil, nil); err != nil {
		return nil, err
	}
	var result genreOutput
	if err := readJSON(output, &result); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "genre", "read result", "", err)
	}
	if result.Error != nil && strings.TrimSpace(*result.Error) != "" {
		return nil, services.Wrap(services.ErrExternalTool, "genre", "classify", strings.TrimSpace(*result.Error), nil)
	}
	return result.Genres, nil
}

// Analyze runs the analyzer and decodes its JSON report.
func (t *ToolSet) Analyze(ctx context.Context, req AnalysisRequest) (profile.Analysis, error) {
	output, cleanup, err := t.scratchFile("solasola-analysis-*.json")
	if err != nil {
		return profile.Analysis{}, fmt.Errorf("create analysis output: %w", err)
	}
	defer cleanup()
	var args []string
	if req.Audio != "" {
		args = append(args, "--audio_path", req.Audio)
	}
	if req.MIDI != "" {
		args = append(args, "--midi_path", req.MIDI)
	}
	if len(args) == 0 {
		return profile.Analysis{}, services.Wrap(services.ErrValidation, "analyzer", "analyze", "nothing to analyze", nil)
	}
	args = append(args, "--output_path", output)
	artifact := output + ".error.json"
	err = t.run(ctx, "analyzer", t.Analyzer, append(args, "--error-artifact", artifact), artifact, nil, nil)
	_ = os.Remove(artifact)
	if err != nil {
		return profile.Analysis{}, err
	}
	var analysis profile.Analysis
	if err := readJSON(output, &analysis); err != nil {
		return profile.Analysis{}, services.Wrap(services.ErrExternalTool, "analyzer", "read result", "", err)
	}
	return analysis, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
