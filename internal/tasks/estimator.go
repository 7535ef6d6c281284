package tasks

import (
	"context"
	"sync"
	"time"
)

// EstimateCap is the highest percent an estimator reports on its own.
const EstimateCap = 95.0

// ProgressEstimator interpolates progress for work that reports none of its
// own. It ticks until stopped, reporting elapsed/expected as a percent capped
// at EstimateCap.
type ProgressEstimator struct {
	expected time.Duration
	interval time.Duration
	report   func(percent float64)

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartEstimator launches the ticker goroutine. report is called from that
// goroutine only.
func StartEstimator(ctx context.Context, expected, interval time.Duration, report func(percent float64)) *ProgressEstimator {
	if expected <= 0 {
		expected = 30 * time.Second
	}
	if interval <= 0 {
		interval = time.Second
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	e := &ProgressEstimator{
		expected: expected,
		interval: interval,
		report:   report,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go e.loop(ctx, time.Now())
	return e
}

func (e *ProgressEstimator) loop(ctx context.Context, started time.Time) {
	defer close(e.done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.report != nil {
				e.report(EstimatePercent(time.Since(started), e.expected))
			}
		}
	}
}

// Stop ends the ticker and waits for it to exit. Safe to call repeatedly.
func (e *ProgressEstimator) Stop() {
	if e == nil {
		return
	}
	e.once.Do(e.cancel)
	<-e.done
}

// EstimatePercent maps elapsed time onto 0..EstimateCap.
func EstimatePercent(elapsed, expected time.Duration) float64 {
	if expected <= 0 || elapsed <= 0 {
		return 0
	}
	return min(EstimateCap, float64(elapsed)/float64(expected)*100)
}
