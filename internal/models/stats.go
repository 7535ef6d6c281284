package models

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"solasola/internal/fileutil"
)

// StatsFileName stores recent download rates inside the models root.
const StatsFileName = "download_stats.json"

const (
	// DefaultDownloadRate is used until a download has been measured (12 MB/s).
	DefaultDownloadRate = 12 * 1024 * 1024
	DefaultStatsHistory = 10
	minEstimate         = 10 * time.Second
)

// DownloadStats keeps a rolling history of observed download rates in
// bytes per second.
type DownloadStats struct {
	mu          sync.Mutex
	path        string
	history     int
	defaultRate float64
}

// NewDownloadStats returns stats persisted at path.
func NewDownloadStats(path string, history int, defaultRate float64) *DownloadStats {
	if history <= 0 {
		history = DefaultStatsHistory
	}
	if defaultRate <= 0 {
		defaultRate = DefaultDownloadRate
	}
	return &DownloadStats{path: path, history: history, defaultRate: defaultRate}
}

// Rates returns the recorded history, oldest first. A missing or unreadable
// file yields an empty history.
func (s *DownloadStats) Rates() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *DownloadStats) load() []float64 {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}
	var rates []float64
	if err := json.Unmarshal(data, &rates); err != nil {
		return nil
	}
	return rates
}

// Rate returns the mean of the recorded history or the default rate.
func (s *DownloadStats) Rate() float64 {
	rates := s.Rates()
	var sum float64
	var n int
	for _, r := range rates {
		if r > 0 {
			sum += r
			n++
		}
	}
	if n == 0 {
		return s.defaultRate
	}
	return sum / float64(n)
}

// Estimate predicts how long downloading size bytes will take, never less
// than ten seconds.
func (s *DownloadStats) Estimate(size int64) time.Duration {
	if size <= 0 {
		return minEstimate
	}
	seconds := float64(size) / s.Rate()
	return max(minEstimate, time.Duration(seconds*float64(time.Second)))
}

// Record appends an observed rate and trims the history.
func (s *DownloadStats) Record(size int64, elapsed time.Duration) error {
	if size <= 0 || elapsed <= time.Second {
		return nil
	}
	rate := float64(size) / elapsed.Seconds()

	s.mu.Lock()
	defer s.mu.Unlock()
	rates := append(s.load(), rate)
	if len(rates) > s.history {
		rates = rates[len(rates)-s.history:]
	}
	data, err := json.Marshal(rates)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}
	return fileutil.WriteFileAtomic(s.path, data, 0o644)
}
