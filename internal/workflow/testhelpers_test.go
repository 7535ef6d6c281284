package workflow_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"solasola/internal/models"
	"solasola/internal/profile"
	"solasola/internal/services"
	"solasola/internal/tasks"
	"solasola/internal/workflow"
)

type fakeProber struct {
	durations map[string]time.Duration
}

func (p fakeProber) Probe(_ context.Context, file workflow.InputFile) (time.Duration, error) {
	d, ok := p.durations[file.Name]
	if !ok {
		return 0, fmt.Errorf("no duration for %s", file.Name)
	}
	return d, nil
}

type fakeSeparator struct {
	stems []string
	// weights, when set, is written before the stems the way a separator
	// downloading its own model would.
	weights string
	calls   atomic.Int32
	started chan struct{}
	block   bool
	once    sync.Once
}

func (s *fakeSeparator) Separate(ctx context.Context, req workflow.SeparationRequest, progress func(workflow.SeparationUpdate)) ([]string, error) {
	s.calls.Add(1)
	if s.started != nil {
		s.once.Do(func() { close(s.started) })
	}
	if s.block {
		<-ctx.Done()
		return nil, services.Wrap(services.ErrCancelled, "separator", "run", "cancelled", ctx.Err())
	}
	if s.weights != "" {
		if err := os.MkdirAll(filepath.Dir(s.weights), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(s.weights, []byte("weights"), 0o644); err != nil {
			return nil, err
		}
	}
	progress(workflow.SeparationUpdate{Stage: workflow.StageSeparate, SubStage: 1, Percent: 50, Message: "Separating instruments (50%)"})
	if len(s.stems) == 0 {
		return nil, services.Wrap(services.ErrExternalTool, "separator", "collect stems", "Stem separation failed to produce any files.", nil)
	}
	var out []string
	for _, stem := range s.stems {
		path := filepath.Join(req.OutputDir, stem+".wav")
		if err := os.WriteFile(path, []byte("RIFF"+stem), 0o644); err != nil {
			return nil, err
		}
		out = append(out, path)
	}
	return out, nil
}

type fakeTranscriber struct {
	calls atomic.Int32
	fail  map[string]bool
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audioPath, outputPath string) error {
	f.calls.Add(1)
	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	if f.fail[stem] {
		return services.Wrap(services.ErrExternalTool, "transcriber", "run", "basic-pitch crashed", nil)
	}
	return writeMIDI(outputPath)
}

type fakeNotator struct {
	calls atomic.Int32
}

func (n *fakeNotator) Generate(_ context.Context, midiPaths []string, title string) (map[string]string, error) {
	n.calls.Add(1)
	scores := make(map[string]string, len(midiPaths))
	for _, path := range midiPaths {
		part := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		scores[part] = fmt.Sprintf("X:1\nT:%s (%s)\nQ:1/4=96\nK:C\nC D E F|", title, part)
	}
	return scores, nil
}

type fakeGenre struct{}

func (fakeGenre) Classify(context.Context, string) ([]profile.Genre, error) {
	return []profile.Genre{{Label: "rock", Probability: 0.82}, {Label: "pop", Probability: 0.1}}, nil
}

type fakeAnalyzer struct {
	requests []workflow.AnalysisRequest
	mu       sync.Mutex
}

func (a *fakeAnalyzer) Analyze(_ context.Context, req workflow.AnalysisRequest) (profile.Analysis, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()
	return profile.Analysis{
		Tempo:             "120 BPM",
		Key:               "C major",
		TimeSignature:     "4/4",
		SongStructure:     "Intro, Verse, Chorus",
		DetailedChordsSRT: "1\n00:00:00,000 --> 00:00:02,000\nCmaj7",
		SimpleChordsSRT:   "1\n00:00:00,000 --> 00:00:02,000\nC",
		ChordGrid:         "| C | C | F | G |",
	}, nil
}

type fakeModels struct{ installed bool }

func (f fakeModels) Installed(models.Ref) bool { return f.installed }

type harness struct {
	manager *workflow.Manager
	tasks   *tasks.Registry
	output  string
	inputs  string
}

func newHarness(t *testing.T, tools workflow.Collaborators) *harness {
	t.Helper()
	return newHarnessWithModels(t, tools, fakeModels{installed: true})
}

func newHarnessWithModels(t *testing.T, tools workflow.Collaborators, store workflow.ModelChecker) *harness {
	t.Helper()
	base := t.TempDir()
	output := filepath.Join(base, "output")
	inputs := filepath.Join(base, "uploads")
	require.NoError(t, os.MkdirAll(output, 0o755))
	require.NoError(t, os.MkdirAll(inputs, 0o755))

	registry := tasks.NewRegistry(tasks.Options{})
	manager := workflow.NewManager(workflow.Options{
		Tasks:      registry,
		Models:     store,
		OutputRoot: output,
		Durations:  workflow.DurationPolicy{Tolerance: 2 * time.Second, LyricsDefault: 210 * time.Second},
		Version:    "test",
		Tools:      tools,
	})
	return &harness{manager: manager, tasks: registry, output: output, inputs: inputs}
}

func (h *harness) writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.inputs, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// runJob submits job and blocks until the task reaches a terminal state.
func (h *harness) runJob(t *testing.T, job workflow.Job) *tasks.Task {
	t.Helper()
	id, err := h.manager.Submit(job)
	require.NoError(t, err)
	h.manager.Wait()
	task, ok := h.tasks.Get(id)
	require.True(t, ok)
	require.True(t, task.Status.Terminal(), "task status %s", task.Status)
	return task
}

func songResult(t *testing.T, task *tasks.Task, title string) *workflow.SongResult {
	t.Helper()
	raw, ok := task.Results[title]
	require.True(t, ok, "no result for %q in %v", title, task.Results)
	result, ok := raw.(*workflow.SongResult)
	require.True(t, ok, "result has type %T", raw)
	return result
}

func writeMIDI(path string) error {
	file := smf.NewSMF1()
	file.TimeFormat = smf.MetricTicks(480)
	var track smf.Track
	track.Add(0, smf.MetaTrackSequenceName("basic-pitch"))
	track.Add(0, midi.NoteOn(0, 60, 100))
	track.Add(960, midi.NoteOff(0, 60))
	track.Close(0)
	if err := file.Add(track); err != nil {
		return err
	}
	return file.WriteFile(path)
}

func logMessages(task *tasks.Task) []string {
	out := make([]string, 0, len(task.UILogs))
	for _, entry := range task.UILogs {
		out = append(out, entry.Message)
	}
	return out
}
