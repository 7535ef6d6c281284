package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"solasola/internal/services"
)

// ErrDurationMismatch reports audio inputs whose lengths disagree by more
// than the configured tolerance.
var ErrDurationMismatch = fmt.Errorf("%w: audio durations differ", services.ErrValidation)

// Prober measures the playing time of an input file.
type Prober interface {
	Probe(ctx context.Context, file InputFile) (time.Duration, error)
}

// DurationPolicy carries the limits ResolveDuration applies.
type DurationPolicy struct {
	Tolerance     time.Duration
	LyricsDefault time.Duration
}

// ResolveDuration determines the song length that drives lyric timing and
// profile statistics. Audio files must agree within the tolerance and the
// first one wins; MIDI-only input takes the longest file; lyrics-only
// input falls back to the policy default.
func ResolveDuration(ctx context.Context, prober Prober, files ClassifiedFiles, mode Mode, policy DurationPolicy) (time.Duration, error) {
	switch {
	case len(files.Audio) > 0:
		durations, err := probeAll(ctx, prober, files.Audio)
		if err != nil {
			return 0, err
		}
		lo, hi := slices.Min(durations), slices.Max(durations)
		if hi-lo > policy.Tolerance {
			parts := make([]string, len(durations))
			for i, d := range durations {
				parts[i] = fmt.Sprintf("%s=%.2fs", files.Audio[i].Name, d.Seconds())
			}
			return 0, fmt.Errorf("%w by %.2fs (tolerance %.2fs): %s",
				ErrDurationMismatch, (hi - lo).Seconds(), policy.Tolerance.Seconds(), strings.Join(parts, ", "))
		}
		return durations[0], nil
	case len(files.MIDI) > 0:
		durations, err := probeAll(ctx, prober, files.MIDI)
		if err != nil {
			return 0, err
		}
		return slices.Max(durations), nil
	case mode == ModeLyricsOnly && len(files.Lyrics) > 0:
		return policy.LyricsDefault, nil
	default:
		return 0, services.Wrap(services.ErrValidation, "workflow", "resolve duration",
			"No audio or MIDI file was supplied to determine the song duration", nil)
	}
}

func probeAll(ctx context.Context, prober Prober, files []InputFile) ([]time.Duration, error) {
	if prober == nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "resolve duration", "no duration prober configured", nil)
	}
	durations := make([]time.Duration, 0, len(files))
	for _, f := range files {
		d, err := prober.Probe(ctx, f)
		if err != nil {
			if services.IsCancelled(err) || errors.Is(err, context.Canceled) {
				return nil, err
			}
			return nil, services.Wrap(services.ErrValidation, "workflow", "probe duration",
				fmt.Sprintf("Could not read the duration of %s", f.Name), err)
		}
		if d <= 0 {
			return nil, services.Wrap(services.ErrValidation, "workflow", "probe duration",
				fmt.Sprintf("%s has no playable content", f.Name), nil)
		}
		durations = append(durations, d)
	}
	return durations, nil
}
