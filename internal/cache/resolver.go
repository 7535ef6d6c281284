package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"solasola/internal/fileutil"
	"solasola/internal/fingerprint"
	"solasola/internal/logging"
	"solasola/internal/tasks"
)

// Action says whether an asset was reused or must be produced.
type Action string

const (
	ActionUseExisting Action = "USE_EXISTING"
	ActionCreateNew   Action = "CREATE_NEW"
)

// ProvenanceStatus records where an asset in a result directory came from.
type ProvenanceStatus string

const (
	ProvenanceCopied  ProvenanceStatus = "COPIED_FROM_CACHE"
	ProvenanceCreated ProvenanceStatus = "CREATED_NEW"
)

// Provenance is persisted in info.json under cache_provenance.
type Provenance struct {
	Status ProvenanceStatus `json:"status"`
	Source *string          `json:"source"`
}

// Resolution is the outcome of resolving one asset type.
type Resolution struct {
	Action Action
	Path   string
}

// Candidate is an earlier result directory sharing the fingerprint.
type Candidate struct {
	Name      string
	Path      string
	CreatedAt time.Time
}

// RecencyIndex supplies explicit creation times for result directories.
type RecencyIndex interface {
	CreatedAt(ctx context.Context, names []string) (map[string]time.Time, error)
}

// Notifier receives user-facing progress messages.
type Notifier interface {
	LogToUI(taskID, message, icon string, severity tasks.Severity, audience tasks.Audience)
}

// Options configures a Resolver.
type Options struct {
	TaskID         string
	BaseOutputRoot string
	Fingerprint    string
	ResultDir      string
	Index          RecencyIndex
	Logger         *slog.Logger
	Notifier       Notifier
	// PreSuppliedStems switches the stems miss message to the wording used
	// when several audio files are treated as already-separated stems.
	PreSuppliedStems bool
}

// Resolver looks up reusable outputs for one result directory.
type Resolver struct {
	opts       Options
	logger     *slog.Logger
	candidates []Candidate

	mu          sync.Mutex
	resolutions map[fingerprint.AssetType]Resolution
	provenance  map[string]Provenance
}

// NewResolver scans the output root and fixes the candidate list for the
// lifetime of the resolver.
func NewResolver(ctx context.Context, opts Options) *Resolver {
	logger := logging.NewComponentLogger(opts.Logger, "cache")
	r := &Resolver{
		opts:        opts,
		logger:      logger,
		resolutions: make(map[fingerprint.AssetType]Resolution),
		provenance:  make(map[string]Provenance),
	}
	r.candidates = r.findCandidates(ctx)
	logger.Info("cache candidates found",
		logging.String("fingerprint", opts.Fingerprint),
		logging.Int("count", len(r.candidates)),
		logging.String(logging.FieldEventType, "cache_candidates"),
	)
	return r
}

// Candidates returns the ordered candidate list, newest first.
func (r *Resolver) Candidates() []Candidate {
	return append([]Candidate(nil), r.candidates...)
}

func (r *Resolver) findCandidates(ctx context.Context) []Candidate {
	root := strings.TrimSpace(r.opts.BaseOutputRoot)
	fp := strings.TrimSpace(r.opts.Fingerprint)
	if root == "" || fp == "" {
		return nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.WarnWithContext(r.logger, "cache scan failed", "cache_scan_failed",
				logging.String("root", root),
				logging.Error(err),
				logging.String(logging.FieldImpact, "all assets will be processed from scratch"),
			)
		}
		return nil
	}

	own := ""
	if r.opts.ResultDir != "" {
		own = filepath.Clean(r.opts.ResultDir)
	}

	var candidates []Candidate
	for _, entry := range entries {
		if !entry.IsDir() || !strings.Contains(entry.Name(), fp) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if own != "" && filepath.Clean(path) == own {
			continue
		}
		candidates = append(candidates, Candidate{Name: entry.Name(), Path: path})
	}
	if len(candidates) == 0 {
		return nil
	}

	indexed := r.indexedTimes(ctx, candidates)
	for i := range candidates {
		candidates[i].CreatedAt = r.recency(candidates[i], indexed)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
		}
		return candidates[i].Name > candidates[j].Name
	})
	return candidates
}

func (r *Resolver) indexedTimes(ctx context.Context, candidates []Candidate) map[string]time.Time {
	if r.opts.Index == nil {
		return nil
	}
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}
	if ctx == nil {
		ctx = context.Background()
	}
	times, err := r.opts.Index.CreatedAt(ctx, names)
	if err != nil {
		r.logger.Debug("cache index lookup failed; using on-disk recency", logging.Error(err))
		return nil
	}
	return times
}

func (r *Resolver) recency(c Candidate, indexed map[string]time.Time) time.Time {
	if ts, ok := indexed[c.Name]; ok {
		return ts
	}
	if marker, err := ReadResultMarker(c.Path); err == nil {
		return marker.CreatedAt
	}
	if info, err := os.Stat(c.Path); err == nil {
		return info.ModTime()
	}
	return time.Time{}
}

// Resolve reuses the newest valid cached copy of asset or prepares an empty
// destination for new output. The only error is failing to create that
// destination.
func (r *Resolver) Resolve(ctx context.Context, asset fingerprint.AssetType) (Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prior, ok := r.resolutions[asset]; ok {
		return prior, nil
	}

	logger := r.logger.With(logging.String(logging.FieldAssetType, string(asset)))
	destination := filepath.Join(r.opts.ResultDir, string(asset))

	for _, candidate := range r.candidates {
		if ctx != nil && ctx.Err() != nil {
			break
		}
		source := filepath.Join(candidate.Path, string(asset))
		if info, err := os.Stat(source); err != nil || !info.IsDir() {
			continue
		}
		if !fingerprint.ValidateManifest(source, asset) {
			logger.Debug("cache candidate rejected", logging.String("candidate", candidate.Name))
			continue
		}

		if err := fileutil.CopyDir(ctx, source, destination); err != nil {
			logging.WarnWithContext(logger, "cache copy failed", "cache_copy_failed",
				logging.String("candidate", candidate.Name),
				logging.Error(err),
				logging.String(logging.FieldImpact, "trying the next cache candidate"),
			)
			_ = os.RemoveAll(destination)
			continue
		}

		logger.Info("cache hit",
			logging.String("candidate", candidate.Name),
			logging.String("destination", destination),
			logging.String(logging.FieldEventType, "cache_hit"),
		)
		icon := hitIcon(asset)
		r.notify("Found previously analyzed files. Re-using.", icon, tasks.AudienceToast)
		r.notify(fmt.Sprintf("Re-using previously analyzed '%s' files from project '%s'.", asset, candidate.Name), icon, tasks.AudienceLog)

		src := candidate.Path
		r.provenance[string(asset)] = Provenance{Status: ProvenanceCopied, Source: &src}
		res := Resolution{Action: ActionUseExisting, Path: destination}
		r.resolutions[asset] = res
		return res, nil
	}

	logger.Info("cache miss",
		logging.String(logging.FieldEventType, "cache_miss"),
	)
	toast, detail, icon := missMessages(asset, r.opts.PreSuppliedStems)
	r.notify(toast, icon, tasks.AudienceToast)
	r.notify(detail, icon, tasks.AudienceLog)

	if err := os.MkdirAll(destination, 0o755); err != nil {
		return Resolution{}, fmt.Errorf("create %s output dir: %w", asset, err)
	}
	r.provenance[string(asset)] = Provenance{Status: ProvenanceCreated}
	res := Resolution{Action: ActionCreateNew, Path: destination}
	r.resolutions[asset] = res
	return res, nil
}

// WriteManifestForStep records the manifest for a freshly produced asset directory.
func (r *Resolver) WriteManifestForStep(asset fingerprint.AssetType) (bool, error) {
	dir := filepath.Join(r.opts.ResultDir, string(asset))
	written, err := fingerprint.WriteManifest(dir, asset)
	logger := r.logger.With(logging.String(logging.FieldAssetType, string(asset)))
	switch {
	case err != nil:
		logging.WarnWithContext(logger, "manifest write failed", "cache_manifest_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "this output will not be reused by later runs"),
		)
	case !written:
		logging.WarnWithContext(logger, "no valid output files; manifest skipped", "cache_manifest_skipped",
			logging.String(logging.FieldImpact, "this output will not be reused by later runs"),
		)
	default:
		logger.Info("manifest written", logging.String("dir", dir))
	}
	return written, err
}

// Provenance returns the provenance recorded so far, keyed by asset type.
func (r *Resolver) Provenance() map[string]Provenance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Provenance, len(r.provenance))
	for k, v := range r.provenance {
		out[k] = v
	}
	return out
}

func (r *Resolver) notify(message, icon string, audience tasks.Audience) {
	if r.opts.Notifier == nil {
		return
	}
	r.opts.Notifier.LogToUI(r.opts.TaskID, message, icon, tasks.SeverityInfo, audience)
}

func hitIcon(asset fingerprint.AssetType) string {
	switch asset {
	case fingerprint.AssetStems, fingerprint.AssetMIDI, fingerprint.AssetABC, fingerprint.AssetChords:
		return "skip_next"
	default:
		return "inventory_2"
	}
}

func missMessages(asset fingerprint.AssetType, preSupplied bool) (toast, detail, icon string) {
	if asset == fingerprint.AssetStems && preSupplied {
		return "Processing provided stems...", "Multiple audio files detected. Treating as pre-separated stems.", "input"
	}
	detail = fmt.Sprintf("Processing %s files...", asset)
	switch asset {
	case fingerprint.AssetStems:
		return "Starting stem separation...", detail, "call_split"
	case fingerprint.AssetMIDI:
		return "Converting stems to MIDI...", detail, "piano"
	case fingerprint.AssetABC:
		return "Generating ABC notation...", detail, "music_note"
	case fingerprint.AssetChords:
		return "Analyzing chords...", detail, "compost"
	default:
		return detail, detail, "info"
	}
}
