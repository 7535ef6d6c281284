package models_test

import (
	"path/filepath"
	"testing"
	"time"

	"solasola/internal/models"
)

func TestEstimateUsesDefaultRateAndFloor(t *testing.T) {
	stats := models.NewDownloadStats(filepath.Join(t.TempDir(), models.StatsFileName), 10, 1<<20)
	if got := stats.Estimate(60 << 20); got != 60*time.Second {
		t.Fatalf("expected 60s, got %v", got)
	}
	if got := stats.Estimate(1 << 20); got != 10*time.Second {
		t.Fatalf("expected 10s floor, got %v", got)
	}
}

func TestRecordKeepsRollingHistory(t *testing.T) {
	stats := models.NewDownloadStats(filepath.Join(t.TempDir(), models.StatsFileName), 3, 1)
	for i := 1; i <= 5; i++ {
		if err := stats.Record(int64(i*100), 2*time.Second); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	rates := stats.Rates()
	if len(rates) != 3 {
		t.Fatalf("expected 3 rates, got %v", rates)
	}
	if rates[0] != 150 || rates[2] != 250 {
		t.Fatalf("unexpected rates %v", rates)
	}
	if got := stats.Rate(); got != 200 {
		t.Fatalf("expected mean 200, got %v", got)
	}
}

func TestRecordIgnoresShortDownloads(t *testing.T) {
	stats := models.NewDownloadStats(filepath.Join(t.TempDir(), models.StatsFileName), 3, 1)
	if err := stats.Record(1000, 500*time.Millisecond); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(stats.Rates()) != 0 {
		t.Fatal("expected sub-second download to be ignored")
	}
}
