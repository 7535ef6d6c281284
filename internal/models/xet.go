package models

import (
	"context"
	"log/slog"
	"math"
	"os"
	"time"

	"solasola/internal/logging"
)

// DefaultXetMinWait is the shortest delay before the scratch cache is removed.
const DefaultXetMinWait = 5 * time.Minute

// CleanupDelay returns how long to wait after the last download finishes:
// one and a half times the download duration rounded up to whole minutes,
// and never less than minWait.
func CleanupDelay(download, minWait time.Duration) time.Duration {
	minutes := math.Ceil(download.Minutes())
	scaled := time.Duration(math.Floor(minutes*1.5)) * time.Minute
	return max(minWait, scaled)
}

type xetMsg struct {
	start    bool
	duration time.Duration
}

// XetOptions configures the scratch-cache actor.
type XetOptions struct {
	Dir     string
	Enabled bool
	MinWait time.Duration
	Logger  *slog.Logger
	// Remove deletes the scratch directory. Defaults to os.RemoveAll.
	Remove func(string) error
}

// XetActor owns the active-download count and the scheduled deletion of the
// shared download scratch directory. All state lives in the Run goroutine.
type XetActor struct {
	opts   XetOptions
	logger *slog.Logger
	inbox  chan xetMsg
	// removed receives after every deletion attempt; used by tests.
	removed chan struct{}
}

// NewXetActor constructs the actor. Call Run to start it.
func NewXetActor(opts XetOptions) *XetActor {
	if opts.MinWait <= 0 {
		opts.MinWait = DefaultXetMinWait
	}
	if opts.Remove == nil {
		opts.Remove = os.RemoveAll
	}
	return &XetActor{
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "xet"),
		inbox:   make(chan xetMsg, 16),
		removed: make(chan struct{}, 1),
	}
}

// Start reports that a download began.
func (a *XetActor) Start() {
	if a == nil {
		return
	}
	a.inbox <- xetMsg{start: true}
}

// Finish reports that a download ended after the given duration.
func (a *XetActor) Finish(duration time.Duration) {
	if a == nil {
		return
	}
	a.inbox <- xetMsg{duration: duration}
}

// Removed signals each completed deletion attempt.
func (a *XetActor) Removed() <-chan struct{} {
	return a.removed
}

// Run processes notifications until ctx is done.
func (a *XetActor) Run(ctx context.Context) {
	var (
		active   int
		deleteAt time.Time
		timer    *time.Timer
		fire     <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, fire, deleteAt = nil, nil, time.Time{}
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.inbox:
			if msg.start {
				active++
				if !deleteAt.IsZero() {
					a.logger.Info("download started; scratch cleanup cancelled",
						logging.String("was_scheduled_for", deleteAt.Format(time.RFC3339)))
				}
				stopTimer()
				a.logger.Debug("download started", logging.Int("active", active))
				continue
			}
			if active > 0 {
				active--
			}
			a.logger.Debug("download finished", logging.Int("active", active))
			if active != 0 {
				continue
			}
			delay := CleanupDelay(msg.duration, a.opts.MinWait)
			next := time.Now().Add(delay)
			if deleteAt.IsZero() || next.After(deleteAt) {
				stopTimer()
				deleteAt = next
				timer = time.NewTimer(delay)
				fire = timer.C
				a.logger.Info("scratch cleanup scheduled",
					logging.String("at", deleteAt.Format(time.RFC3339)),
					logging.Duration("delay", delay),
				)
			}
		case <-fire:
			timer, fire, deleteAt = nil, nil, time.Time{}
			if active == 0 {
				a.cleanup()
			}
		}
	}
}

func (a *XetActor) cleanup() {
	defer func() {
		select {
		case a.removed <- struct{}{}:
		default:
		}
	}()
	if !a.opts.Enabled || a.opts.Dir == "" {
		a.logger.Debug("scratch cleanup disabled", logging.String("dir", a.opts.Dir))
		return
	}
	if _, err := os.Stat(a.opts.Dir); err != nil {
		return
	}
	if err := a.opts.Remove(a.opts.Dir); err != nil {
		logging.WarnWithContext(a.logger, "scratch cleanup failed", "xet_cleanup_failed",
			logging.String("dir", a.opts.Dir),
			logging.Error(err),
			logging.String(logging.FieldImpact, "scratch download cache keeps using disk space"),
		)
		return
	}
	a.logger.Info("scratch cache removed", logging.String("dir", a.opts.Dir))
}
