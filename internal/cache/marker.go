package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"solasola/internal/fileutil"
)

// ResultMarkerFileName records when a result directory was created.
const ResultMarkerFileName = ".solasola_result.json"

// ResultMarker is the on-disk record stored at the root of every result directory.
type ResultMarker struct {
	Fingerprint string    `json:"fingerprint"`
	TaskID      string    `json:"task_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// WriteResultMarker stores marker in dir.
func WriteResultMarker(dir string, marker ResultMarker) error {
	if marker.CreatedAt.IsZero() {
		marker.CreatedAt = time.Now()
	}
	marker.CreatedAt = marker.CreatedAt.UTC()
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result marker: %w", err)
	}
	return fileutil.WriteFileAtomic(filepath.Join(dir, ResultMarkerFileName), data, 0o644)
}

// ReadResultMarker loads the marker from dir.
func ReadResultMarker(dir string) (ResultMarker, error) {
	var marker ResultMarker
	data, err := os.ReadFile(filepath.Join(dir, ResultMarkerFileName))
	if err != nil {
		return marker, err
	}
	if err := json.Unmarshal(data, &marker); err != nil {
		return marker, fmt.Errorf("decode result marker: %w", err)
	}
	if marker.CreatedAt.IsZero() {
		return marker, fmt.Errorf("result marker in %s has no created_at", dir)
	}
	return marker, nil
}
