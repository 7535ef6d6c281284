package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solasola/internal/cache"
	"solasola/internal/fingerprint"
	"solasola/internal/profile"
	"solasola/internal/services"
	"solasola/internal/tasks"
	"solasola/internal/workflow"
)

func fullTools(sep *fakeSeparator, tr *fakeTranscriber, notator *fakeNotator, analyzer *fakeAnalyzer, durations map[string]time.Duration) workflow.Collaborators {
	return workflow.Collaborators{
		Prober:      fakeProber{durations: durations},
		Separator:   sep,
		Transcriber: tr,
		Notation:    notator,
		Genre:       fakeGenre{},
		Analyzer:    analyzer,
	}
}

func TestLyricsOnlySplitsAcrossDefaultDuration(t *testing.T) {
	h := newHarness(t, workflow.Collaborators{})
	path := h.writeInput(t, "Hymn.txt", "first line\n\nsecond line\n")
	files, unsupported := workflow.Classify([]string{path})
	require.Empty(t, unsupported)

	task := h.runJob(t, workflow.Job{Files: files, Mode: workflow.ModeLyricsOnly})
	require.Equal(t, tasks.StatusCompleted, task.Status, "error: %s", task.Error)
	assert.Equal(t, 100.0, task.Progress)

	result := songResult(t, task, "Hymn")
	assert.Equal(t, "1\n00:00:00,000 --> 00:01:45,000\nfirst line\n\n2\n00:01:45,000 --> 00:03:30,000\nsecond line", result.LyricsSRT)
	assert.Equal(t, "3:30", result.Profile.Duration)
	assert.Equal(t, "Not Analyzed", result.Profile.Tempo)

	srt, err := os.ReadFile(filepath.Join(result.ResultDir, "lyrics", "lyrics.srt"))
	require.NoError(t, err)
	assert.Equal(t, result.LyricsSRT, string(srt))
	assert.FileExists(t, result.InfoPath)
	assert.FileExists(t, filepath.Join(result.ResultDir, cache.ResultMarkerFileName))
}

func TestDurationMismatchFailsBeforeProcessing(t *testing.T) {
	sep := &fakeSeparator{stems: []string{"vocals"}}
	h := newHarness(t, fullTools(sep, &fakeTranscriber{}, &fakeNotator{}, &fakeAnalyzer{}, map[string]time.Duration{
		"Song (Vocals).wav": 100 * time.Second,
		"Song (Bass).wav":   180 * time.Second,
	}))
	files, _ := workflow.Classify([]string{
		h.writeInput(t, "Song (Vocals).wav", "a"),
		h.writeInput(t, "Song (Bass).wav", "b"),
	})

	task := h.runJob(t, workflow.Job{Files: files})
	require.Equal(t, tasks.StatusFailed, task.Status)
	assert.Contains(t, task.Error, "audio durations differ")
	assert.Contains(t, logMessages(task), "Error: Files have significantly different durations. They appear to be unrelated songs.")
	assert.Zero(t, sep.calls.Load())

	entries, err := os.ReadDir(h.output)
	require.NoError(t, err)
	assert.Empty(t, entries, "no result directory is created")
}

func TestFullAnalysisReusesCachedAssets(t *testing.T) {
	sep := &fakeSeparator{stems: []string{"vocals", "bass", "drums", "other"}}
	tr := &fakeTranscriber{}
	notator := &fakeNotator{}
	analyzer := &fakeAnalyzer{}
	h := newHarness(t, fullTools(sep, tr, notator, analyzer, map[string]time.Duration{"Song.mp3": 120 * time.Second}))
	files, _ := workflow.Classify([]string{h.writeInput(t, "Song.mp3", "not really audio")})
	job := workflow.Job{Files: files, Mode: workflow.ModeFullAnalysis}

	first := h.runJob(t, job)
	require.Equal(t, tasks.StatusCompleted, first.Status, "error: %s", first.Error)
	result := songResult(t, first, "Song")
	assert.Len(t, result.Stems, 4)
	assert.Len(t, result.MIDI, 5, "four parts and the mix")
	assert.Equal(t, "Mix", result.ABCOrder[0])
	assert.Equal(t, "96 BPM", result.Profile.Tempo, "tempo comes from the mix score")
	assert.Equal(t, "C major", result.Profile.Key)
	assert.Contains(t, result.Profile.PrimaryGenre, "Rock")
	assert.Equal(t, "| C | C | F | G |", result.Chords["chord_grid.txt"])
	assert.Equal(t, cache.ProvenanceCreated, result.Provenance[string(fingerprint.AssetStems)].Status)
	require.Len(t, analyzer.requests, 1)
	assert.Equal(t, "Mix.mid", filepath.Base(analyzer.requests[0].MIDI))
	assert.Equal(t, int32(4), tr.calls.Load())

	second := h.runJob(t, job)
	require.Equal(t, tasks.StatusCompleted, second.Status, "error: %s", second.Error)
	again := songResult(t, second, "Song")
	assert.NotEqual(t, result.ResultDir, again.ResultDir)
	assert.Equal(t, result.Fingerprint, again.Fingerprint)
	for _, asset := range fingerprint.CacheableAssets() {
		prov := again.Provenance[string(asset)]
		assert.Equal(t, cache.ProvenanceCopied, prov.Status, "asset %s", asset)
		require.NotNil(t, prov.Source)
		assert.Equal(t, result.ResultDir, *prov.Source)
	}
	assert.Equal(t, int32(1), sep.calls.Load(), "stems come from the cache")
	assert.Equal(t, int32(4), tr.calls.Load(), "midi comes from the cache")
	assert.Equal(t, int32(1), notator.calls.Load(), "scores come from the cache")
	assert.Equal(t, result.ABC, again.ABC)
	assert.Equal(t, result.Chords, again.Chords)
}

func TestFailedTranscriptionSkipsStem(t *testing.T) {
	sep := &fakeSeparator{stems: []string{"vocals", "bass"}}
	tr := &fakeTranscriber{fail: map[string]bool{"bass": true}}
	h := newHarness(t, fullTools(sep, tr, &fakeNotator{}, &fakeAnalyzer{}, map[string]time.Duration{"Tune.mp3": 60 * time.Second}))
	files, _ := workflow.Classify([]string{h.writeInput(t, "Tune.mp3", "audio")})

	task := h.runJob(t, workflow.Job{Files: files})
	require.Equal(t, tasks.StatusCompleted, task.Status, "error: %s", task.Error)
	result := songResult(t, task, "Tune")
	require.Len(t, result.MIDI, 1)
	assert.Equal(t, "vocals.mid", filepath.Base(result.MIDI[0]))
	assert.Contains(t, logMessages(task), "Could not convert bass.")
}

func TestMIDIInputSkipsSeparation(t *testing.T) {
	sep := &fakeSeparator{stems: []string{"vocals"}}
	analyzer := &fakeAnalyzer{}
	h := newHarness(t, fullTools(sep, &fakeTranscriber{}, &fakeNotator{}, analyzer, map[string]time.Duration{"Etude (Piano).mid": 2 * time.Second}))
	piano := filepath.Join(h.inputs, "Etude (Piano).mid")
	require.NoError(t, writeMIDI(piano))
	files, unsupported := workflow.Classify([]string{piano})
	require.Empty(t, unsupported)

	task := h.runJob(t, workflow.Job{Files: files})
	require.Equal(t, tasks.StatusCompleted, task.Status, "error: %s", task.Error)
	result := songResult(t, task, "Etude")
	assert.Zero(t, sep.calls.Load())
	require.Len(t, result.MIDI, 1)
	assert.Equal(t, "piano.mid", filepath.Base(result.MIDI[0]))
	assert.Equal(t, "Not Analyzed", result.Profile.PrimaryGenre, "genre needs audio")
	require.Len(t, analyzer.requests, 1)
	assert.Empty(t, analyzer.requests[0].Audio)
}

func TestAllSongsFailedReportsLastError(t *testing.T) {
	sep := &fakeSeparator{}
	h := newHarness(t, fullTools(sep, &fakeTranscriber{}, &fakeNotator{}, &fakeAnalyzer{}, map[string]time.Duration{"Song.mp3": 30 * time.Second}))
	files, _ := workflow.Classify([]string{h.writeInput(t, "Song.mp3", "audio")})

	task := h.runJob(t, workflow.Job{Files: files})
	require.Equal(t, tasks.StatusFailed, task.Status)
	assert.Contains(t, task.Error, "All files failed to process")
	assert.Contains(t, task.Error, "Stem separation failed to produce any files.")
	assert.Contains(t, logMessages(task), "Failed to process 'Song'.")
}

func TestCancelStopsRunningTask(t *testing.T) {
	sep := &fakeSeparator{stems: []string{"vocals"}, block: true, started: make(chan struct{})}
	h := newHarness(t, fullTools(sep, &fakeTranscriber{}, &fakeNotator{}, &fakeAnalyzer{}, map[string]time.Duration{"Song.mp3": 30 * time.Second}))
	files, _ := workflow.Classify([]string{h.writeInput(t, "Song.mp3", "audio")})

	id, err := h.manager.Submit(workflow.Job{Files: files})
	require.NoError(t, err)
	select {
	case <-sep.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("separator never started")
	}
	assert.Equal(t, []string{id}, h.manager.Active())
	require.NoError(t, h.tasks.RequestCancel(id))
	h.manager.Wait()

	task, ok := h.tasks.Get(id)
	require.True(t, ok)
	assert.Equal(t, tasks.StatusCancelled, task.Status)
	assert.Empty(t, h.manager.Active())
}

// lateCancelAnalyzer requests cancellation of its own task and still
// returns a complete analysis, as when a cancel arrives during the last stage.
type lateCancelAnalyzer struct {
	fakeAnalyzer
	tasks *tasks.Registry
}

func (a *lateCancelAnalyzer) Analyze(ctx context.Context, req workflow.AnalysisRequest) (profile.Analysis, error) {
	if id, ok := services.TaskIDFromContext(ctx); ok {
		_ = a.tasks.RequestCancel(id)
	}
	return a.fakeAnalyzer.Analyze(ctx, req)
}

func TestCancelDuringLastStageEndsCancelled(t *testing.T) {
	analyzer := &lateCancelAnalyzer{}
	sep := &fakeSeparator{stems: []string{"vocals", "bass"}}
	tools := fullTools(sep, &fakeTranscriber{}, &fakeNotator{}, &fakeAnalyzer{}, map[string]time.Duration{"Song.mp3": 30 * time.Second})
	tools.Analyzer = analyzer
	h := newHarness(t, tools)
	analyzer.tasks = h.tasks
	files, _ := workflow.Classify([]string{h.writeInput(t, "Song.mp3", "audio")})

	task := h.runJob(t, workflow.Job{Files: files, Mode: workflow.ModeFullAnalysis})
	assert.Equal(t, tasks.StatusCancelled, task.Status)
	assert.Empty(t, task.Results)
}

func TestValidateRejectsBadJobs(t *testing.T) {
	h := newHarness(t, workflow.Collaborators{})
	audio, _ := workflow.Classify([]string{h.writeInput(t, "Song.mp3", "audio")})

	cases := []struct {
		name string
		job  workflow.Job
	}{
		{"no files", workflow.Job{}},
		{"lyrics only without lyrics", workflow.Job{Files: audio, Mode: workflow.ModeLyricsOnly}},
		{"unknown device", workflow.Job{Files: audio, Device: "tpu"}},
		{"unknown model", workflow.Job{Files: audio, Model: "bogus"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.manager.Submit(tc.job)
			require.Error(t, err)
			assert.True(t, errors.Is(err, services.ErrValidation), "got %v", err)
		})
	}
	assert.Empty(t, h.tasks.List(), "rejected jobs create no task")
}

func TestValidateFillsDefaults(t *testing.T) {
	h := newHarness(t, workflow.Collaborators{})
	audio, _ := workflow.Classify([]string{h.writeInput(t, "Song.mp3", "audio")})

	job, err := h.manager.Validate(workflow.Job{Files: audio, Device: " CUDA "})
	require.NoError(t, err)
	assert.Equal(t, workflow.ModeFullAnalysis, job.Mode)
	assert.Equal(t, "htdemucs", job.Model)
	assert.Equal(t, "cuda", job.Device)
}
