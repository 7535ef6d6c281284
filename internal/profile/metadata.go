package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"solasola/internal/cache"
	"solasola/internal/fingerprint"
)

const (
	InfoJSONName = "info.json"
	InfoTextName = "info.txt"

	guidance = "This folder is self-contained and can be safely moved or deleted without affecting other analysis results."
)

var titleCaser = cases.Title(language.Und)

// ProjectInfo identifies the run that produced a result directory.
type ProjectInfo struct {
	Version            string `json:"sola_sola_version"`
	ProcessingID       string `json:"processing_id"`
	TimestampLocal     string `json:"processing_timestamp_local"`
	ProcessingDuration string `json:"processing_duration"`
	SongDuration       string `json:"song_duration,omitempty"`
	LyricsSource       string `json:"lyrics_source_method,omitempty"`
	LyricsOnlySplit    bool   `json:"is_lyrics_only_split"`
}

// InputInfo lists what the job was given.
type InputInfo struct {
	OriginalFilenames []string          `json:"original_filenames"`
	FileHashes        map[string]string `json:"file_hashes"`
}

// OutputInfo carries the notes printed at the end of info.txt.
type OutputInfo struct {
	Guidance string `json:"guidance"`
}

// Metadata collects everything written to info.json and info.txt.
type Metadata struct {
	ProjectInfo     ProjectInfo                 `json:"project_info"`
	InputInfo       InputInfo                   `json:"input_info"`
	Settings        map[string]string           `json:"settings_info"`
	CacheProvenance map[string]cache.Provenance `json:"cache_provenance"`
	OutputInfo      OutputInfo                  `json:"output_info"`
	SongProfile     *SongProfile                `json:"song_profile,omitempty"`
	// Results holds the full generated content. It is returned to the API
	// but never written to info.json.
	Results map[string]any `json:"-"`
}

// NewMetadata starts the metadata for a task.
func NewMetadata(taskID, version string, started time.Time) *Metadata {
	if version == "" {
		version = "N/A"
	}
	return &Metadata{
		ProjectInfo: ProjectInfo{
			Version:            version,
			ProcessingID:       taskID,
			TimestampLocal:     started.Local().Format(time.RFC3339),
			ProcessingDuration: "N/A",
		},
		InputInfo:       InputInfo{FileHashes: map[string]string{}},
		Settings:        map[string]string{},
		CacheProvenance: map[string]cache.Provenance{},
		OutputInfo:      OutputInfo{Guidance: guidance},
	}
}

// SetProcessingTime records how long the song took.
func (m *Metadata) SetProcessingTime(d time.Duration) {
	m.ProjectInfo.ProcessingDuration = d.Round(10 * time.Millisecond).String()
}

// Write stores info.json (with an _N suffix when one already exists) and
// info.txt in dir. It returns the JSON path actually used.
func (m *Metadata) Write(dir string) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	jsonPath, err := freePath(filepath.Join(dir, InfoJSONName))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", filepath.Base(jsonPath), err)
	}
	report, err := m.Report(dir)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, InfoTextName), []byte(report), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", InfoTextName, err)
	}
	return jsonPath, nil
}

func freePath(path string) (string, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return path, nil
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; i < 10000; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		if _, err := os.Stat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free name for %s", filepath.Base(path))
}

// Report renders the human-readable info.txt for the result directory dir.
func (m *Metadata) Report(dir string) (string, error) {
	var lines []string
	add := func(format string, args ...any) { lines = append(lines, fmt.Sprintf(format, args...)) }

	add("--- SolaSola Analysis Report ---")
	add("Version: %s", m.ProjectInfo.Version)
	add("Processing ID: %s", m.ProjectInfo.ProcessingID)
	add("Timestamp (Local): %s", m.ProjectInfo.TimestampLocal)
	add("Processing Time: %s", m.ProjectInfo.ProcessingDuration)

	add("\n--- Settings ---")
	for _, key := range sortedKeys(m.Settings) {
		add("%s: %s", titleCaser.String(strings.ReplaceAll(key, "_", " ")), m.Settings[key])
	}

	add("\n--- Input Files ---")
	for _, name := range m.InputInfo.OriginalFilenames {
		add("- %s", name)
	}

	add("\n--- Cache Summary ---")
	for _, asset := range sortedKeys(m.CacheProvenance) {
		prov := m.CacheProvenance[asset]
		status := titleCaser.String(strings.ReplaceAll(strings.ToLower(string(prov.Status)), "_", " "))
		label := titleCaser.String(strings.ReplaceAll(asset, "_", " "))
		if prov.Status == cache.ProvenanceCopied && prov.Source != nil {
			add("- %s: %s (from %s)", label, status, filepath.Base(*prov.Source))
			continue
		}
		add("- %s: %s", label, status)
	}

	if m.SongProfile != nil {
		add("\n--- Song Profile ---")
		for _, f := range m.SongProfile.Fields() {
			add("%s: %s", f.Label, f.Value)
		}
	}

	add("\n--- Output Files ---")
	var outputs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() == fingerprint.ManifestFileName || d.Name() == cache.ResultMarkerFileName {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		outputs = append(outputs, rel)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("list output files: %w", err)
	}
	sort.Strings(outputs)
	for _, rel := range outputs {
		add("- %s", rel)
	}

	add("\n--- Notes ---\n%s", m.OutputInfo.Guidance)
	return strings.Join(lines, "\n"), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
