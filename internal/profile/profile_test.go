package profile_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solasola/internal/cache"
	"solasola/internal/fingerprint"
	"solasola/internal/lyrics"
	"solasola/internal/profile"
)

func TestBuildSongProfile(t *testing.T) {
	segments := lyrics.SplitEvenly([]string{"one two three", "four five six"}, 60*time.Second)
	p := profile.BuildSongProfile(profile.Inputs{
		Duration: 120 * time.Second,
		Genres:   []profile.Genre{{Label: "rock", Probability: 0.81}, {Label: "blues", Probability: 0.1}},
		Analysis: profile.Analysis{Tempo: "120 BPM"},
		Lyrics:   segments,
	})
	assert.Equal(t, "2:00", p.Duration)
	assert.Equal(t, "Rock (81%), Blues (10%)", p.PrimaryGenre)
	assert.Equal(t, "120 BPM", p.Tempo)
	assert.Equal(t, profile.NotAnalyzed, p.Key)
	assert.Equal(t, profile.NotAnalyzed, p.TimeSignature)
	assert.Equal(t, profile.NotAnalyzed, p.SongStructure)
	assert.Equal(t, "50.0%", p.VocalActivity)
	assert.Equal(t, "6 words/min", p.LyricDensity)
}

func TestBuildSongProfileWithoutAnalysis(t *testing.T) {
	p := profile.BuildSongProfile(profile.Inputs{})
	assert.Equal(t, profile.NotAnalyzed, p.PrimaryGenre)
	assert.Empty(t, p.Duration)
	assert.Empty(t, p.VocalActivity)
	labels := make([]string, 0)
	for _, f := range p.Fields() {
		labels = append(labels, f.Label)
	}
	assert.Equal(t, []string{"Genre - AI Estimated", "Tempo", "Key", "Time Signature", "Song Structure"}, labels)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "3:30", profile.FormatDuration(210*time.Second))
	assert.Equal(t, "0:05", profile.FormatDuration(5900*time.Millisecond))
}

func TestMetadataWrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lyrics"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lyrics", "lyrics.srt"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lyrics", fingerprint.ManifestFileName), []byte("{}"), 0o644))

	source := "/out/20240101_000000_1_abc"
	meta := profile.NewMetadata("task-1", "1.2.0", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	meta.InputInfo.OriginalFilenames = []string{"song.txt"}
	meta.Settings["processing_mode"] = "lyrics_only"
	meta.CacheProvenance["lyrics"] = cache.Provenance{Status: cache.ProvenanceCopied, Source: &source}
	meta.CacheProvenance["stems"] = cache.Provenance{Status: cache.ProvenanceCreated}
	meta.SongProfile = &profile.SongProfile{PrimaryGenre: profile.NotAnalyzed, Tempo: "90 BPM"}
	meta.Results = map[string]any{"lyrics": "full srt content"}

	jsonPath, err := meta.Write(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, profile.InfoJSONName), jsonPath)

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotContains(t, decoded, "results")
	assert.Contains(t, decoded, "cache_provenance")

	report, err := os.ReadFile(filepath.Join(dir, profile.InfoTextName))
	require.NoError(t, err)
	text := string(report)
	assert.Contains(t, text, "Processing Mode: lyrics_only")
	assert.Contains(t, text, "- song.txt")
	assert.Contains(t, text, "- Lyrics: Copied From Cache (from 20240101_000000_1_abc)")
	assert.Contains(t, text, "- Stems: Created New")
	assert.Contains(t, text, "Tempo: 90 BPM")
	assert.Contains(t, text, "- "+filepath.Join("lyrics", "lyrics.srt"))
	assert.NotContains(t, text, fingerprint.ManifestFileName)
	assert.True(t, strings.HasSuffix(text, "without affecting other analysis results."))

	second, err := meta.Write(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "info_1.json"), second)
}
