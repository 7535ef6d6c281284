package midimix

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"gitlab.com/gomidi/midi/v2/smf"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"solasola/internal/logging"
	"solasola/internal/services"
)

// DrumChannel is the General MIDI percussion channel (0-based).
const DrumChannel uint8 = 9

// FileName is the name of the merged file inside the MIDI output directory.
const FileName = "Mix.mid"

const defaultResolution = smf.MetricTicks(480)

// Merge combines the MIDI files at paths into one type-1 file at output.
//
// The first track carries the song title plus the first time signature and
// tempo found across the inputs. Each input file gets a single channel for
// all its tracks, and tracks without note events are dropped. Unreadable
// inputs are logged and skipped; Merge fails only when nothing could be
// merged.
func Merge(paths []string, title, output string, logger *slog.Logger) error {
	logger = logging.NewComponentLogger(logger, "midimix")
	if len(paths) == 0 {
		return services.Wrap(services.ErrValidation, "notation", "mix", "no MIDI files to mix", nil)
	}
	ordered := slices.Clone(paths)
	slices.SortStableFunc(ordered, func(a, b string) int {
		da, db := isDrums(a), isDrums(b)
		switch {
		case da && !db:
			return -1
		case db && !da:
			return 1
		}
		return 0
	})

	type source struct {
		path string
		file *smf.SMF
	}
	var sources []source
	for _, path := range ordered {
		file, err := smf.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable MIDI file", logging.String("path", path), logging.Error(err))
			continue
		}
		sources = append(sources, source{path: path, file: file})
	}
	if len(sources) == 0 {
		return services.Wrap(services.ErrValidation, "notation", "mix", "no readable MIDI files to mix", nil)
	}

	resolution := defaultResolution
	if mt, ok := sources[0].file.TimeFormat.(smf.MetricTicks); ok && mt > 0 {
		resolution = mt
	}
	out := smf.NewSMF1()
	out.TimeFormat = resolution

	files := make([]*smf.SMF, len(sources))
	for i, src := range sources {
		files[i] = src.file
	}
	var meta smf.Track
	meta.Add(0, smf.MetaTrackSequenceName(title))
	if sig := firstMeta(files, metaTimeSignature); sig != nil {
		meta.Add(0, sig)
	}
	if tempo := firstMeta(files, metaTempo); tempo != nil {
		meta.Add(0, tempo)
	}
	meta.Close(0)
	if err := out.Add(meta); err != nil {
		return fmt.Errorf("add meta track: %w", err)
	}

	channels := newChannelPool()
	for _, src := range sources {
		name := instrumentName(src.path)
		channel := channels.assign(isDrums(src.path))
		scale := 1.0
		if mt, ok := src.file.TimeFormat.(smf.MetricTicks); ok && mt > 0 && mt != resolution {
			scale = float64(resolution) / float64(mt)
		}
		for i, track := range src.file.Tracks {
			if !slices.ContainsFunc(track, func(ev smf.Event) bool { return isNote(ev.Message) }) {
				continue
			}
			trackName := name
			if len(src.file.Tracks) > 1 {
				trackName = fmt.Sprintf("%s (Track %d)", name, i+1)
			}
			merged := copyTrack(track, trackName, channel, scale)
			if err := out.Add(merged); err != nil {
				logger.Warn("skipping MIDI track", logging.String("path", src.path), logging.Int("track", i+1), logging.Error(err))
			}
		}
		logger.Debug("mixed MIDI file",
			logging.String("path", src.path),
			logging.Int("channel", int(channel)),
		)
	}

	if err := out.WriteFile(output); err != nil {
		return services.Wrap(services.ErrTransient, "notation", "mix", "write mix MIDI", err)
	}
	logger.Info("mix MIDI created",
		logging.String("path", output),
		logging.Int("inputs", len(sources)),
		logging.Int("tracks", len(out.Tracks)),
	)
	return nil
}

// copyTrack rebuilds track under a new name with every channel message moved
// to channel. Dropped events pass their delta on to the next kept event.
func copyTrack(track smf.Track, name string, channel uint8, scale float64) smf.Track {
	var out smf.Track
	out.Add(0, smf.MetaTrackSequenceName(name))
	var carry uint32
	for _, ev := range track {
		delta := carry + ev.Delta
		switch {
		case isMeta(ev.Message, metaTrackName):
			carry = delta
			continue
		case isMeta(ev.Message, metaEndOfTrack):
			out.Close(rescale(delta, scale))
			return out
		case isChannelMessage(ev.Message):
			out.Add(rescale(delta, scale), withChannel(ev.Message, channel))
		default:
			out.Add(rescale(delta, scale), ev.Message)
		}
		carry = 0
	}
	out.Close(rescale(carry, scale))
	return out
}

func rescale(delta uint32, scale float64) uint32 {
	if scale == 1 {
		return delta
	}
	return uint32(float64(delta)*scale + 0.5)
}

// firstMeta returns the first meta event of kind across files, in order.
func firstMeta(files []*smf.SMF, kind byte) smf.Message {
	for _, file := range files {
		for _, track := range file.Tracks {
			for _, ev := range track {
				if isMeta(ev.Message, kind) {
					return ev.Message
				}
			}
		}
	}
	return nil
}

type channelPool struct {
	free []uint8
}

func newChannelPool() *channelPool {
	pool := &channelPool{}
	for ch := uint8(0); ch < 16; ch++ {
		if ch != DrumChannel {
			pool.free = append(pool.free, ch)
		}
	}
	return pool
}

// assign hands out the drum channel for drums and the next melodic channel
// otherwise, falling back to channel 0 once all fifteen are used.
func (p *channelPool) assign(drums bool) uint8 {
	if drums {
		return DrumChannel
	}
	if len(p.free) == 0 {
		return 0
	}
	ch := p.free[0]
	p.free = p.free[1:]
	return ch
}

func stem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func isDrums(path string) bool {
	return strings.Contains(strings.ToLower(stem(path)), "drums")
}

var titleCaser = cases.Title(language.Und)

func instrumentName(path string) string {
	return titleCaser.String(strings.ReplaceAll(stem(path), "_", " "))
}
