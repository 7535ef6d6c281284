package tasks

import (
	"context"
	"time"

	"solasola/internal/logging"
)

const (
	DefaultReaperInterval = time.Hour
	DefaultRetention      = 2 * time.Hour
)

// Reap deletes terminal tasks whose last update is older than retention and
// returns how many were removed.
func (r *Registry) Reap(retention time.Duration) int {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := r.now().UTC().Add(-retention)
	removed := 0
	for _, task := range r.store.List() {
		if !task.Status.Terminal() || task.UpdatedAt.After(cutoff) {
			continue
		}
		r.store.Delete(task.ID)
		r.mu.Lock()
		if state, ok := r.runtime[task.ID]; ok {
			state.cancel()
			delete(r.runtime, task.ID)
		}
		r.mu.Unlock()
		removed++
	}
	if removed > 0 {
		r.logger.Info("reaped finished tasks",
			logging.Int("count", removed),
			logging.String(logging.FieldEventType, "task_reap"),
		)
	}
	return removed
}

// RunReaper calls Reap on every interval tick until ctx is done.
func (r *Registry) RunReaper(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		interval = DefaultReaperInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap(retention)
		}
	}
}
