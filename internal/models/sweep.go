package models

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"solasola/internal/fingerprint"
	"solasola/internal/logging"
)

// SweepReport lists what each sweep removed.
type SweepReport struct {
	Orphans   []string `json:"orphans"`
	Corrupted []string `json:"corrupted"`
	Manifests []string `json:"manifests"`
	// Skipped is set when an install held the lock and nothing was swept.
	Skipped bool `json:"skipped,omitempty"`
}

// Empty reports whether nothing was removed.
func (r SweepReport) Empty() bool {
	return len(r.Orphans) == 0 && len(r.Corrupted) == 0 && len(r.Manifests) == 0
}

type loadedManifest struct {
	path     string
	manifest Manifest
}

func (r *Registry) loadManifests() []loadedManifest {
	entries, err := os.ReadDir(r.manifestDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("read manifest dir failed", logging.Error(err))
		}
		return nil
	}
	var out []loadedManifest
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(r.manifestDir, entry.Name())
		m, err := readManifest(path)
		if err != nil {
			logging.WarnWithContext(r.logger, "skipping unreadable model manifest", "model_manifest_invalid",
				logging.String(logging.FieldModelID, strings.TrimSuffix(entry.Name(), ".json")),
				logging.Error(err),
				logging.String(logging.FieldImpact, "files of this model may be swept as orphans"),
			)
			continue
		}
		out = append(out, loadedManifest{path: path, manifest: m})
	}
	return out
}

// excluded reports whether path must never be touched by sweeps.
func (r *Registry) excluded(path string, isDir bool) bool {
	clean := filepath.Clean(path)
	if clean == r.manifestDir || strings.HasPrefix(clean, r.manifestDir+string(filepath.Separator)) {
		return true
	}
	name := filepath.Base(clean)
	if isDir && name == "xet" && filepath.Dir(clean) == r.root {
		return true
	}
	if name == ".locks" || strings.Contains(clean, string(filepath.Separator)+".locks"+string(filepath.Separator)) {
		return true
	}
	if strings.HasPrefix(name, ".") || name == StatsFileName || strings.HasSuffix(name, ".lock") {
		return true
	}
	for _, dir := range r.extraExcluded {
		if clean == dir || strings.HasPrefix(clean, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// SweepOrphans deletes every file under the models root that no manifest lists.
func (r *Registry) SweepOrphans() []string {
	known := make(map[string]struct{})
	for _, lm := range r.loadManifests() {
		for _, f := range lm.manifest.Files {
			known[filepath.Clean(f.Path)] = struct{}{}
		}
	}

	var removed []string
	_ = filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == r.root {
			return nil
		}
		if d.IsDir() {
			if r.excluded(path, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if r.excluded(path, false) {
			return nil
		}
		if _, ok := known[filepath.Clean(path)]; ok {
			return nil
		}
		if err := os.Remove(path); err != nil {
			r.logger.Warn("remove orphaned model file failed", logging.String("path", path), logging.Error(err))
			return nil
		}
		removed = append(removed, path)
		return nil
	})
	if len(removed) > 0 {
		r.logger.Info("removed orphaned model files", logging.Int("count", len(removed)))
	}
	return removed
}

// SweepCorrupted deletes listed files whose current hash differs from the
// manifest. Missing files are left for SweepDanglingManifests.
func (r *Registry) SweepCorrupted() []string {
	return r.sweepCorrupted("")
}

// sweepCorrupted limits itself to manifests of modelType unless it is empty.
func (r *Registry) sweepCorrupted(modelType Type) []string {
	var removed []string
	for _, lm := range r.loadManifests() {
		if modelType != "" && lm.manifest.ModelType != modelType {
			continue
		}
		for _, f := range lm.manifest.Files {
			if _, err := os.Lstat(f.Path); err != nil {
				continue
			}
			if fingerprint.HashOrNA(f.Path) == f.Hash {
				continue
			}
			if err := os.Remove(f.Path); err != nil {
				r.logger.Warn("remove corrupted model file failed", logging.String("path", f.Path), logging.Error(err))
				continue
			}
			logging.WarnWithContext(r.logger, "removed corrupted model file", "model_file_corrupted",
				logging.String("path", f.Path),
				logging.String(logging.FieldModelID, manifestID(lm.path)),
				logging.String(logging.FieldImpact, "model must be reinstalled"),
				logging.String(logging.FieldErrorHint, "reinstall the model"),
			)
			removed = append(removed, f.Path)
		}
	}
	return removed
}

// SweepDanglingManifests deletes manifests that reference missing files.
func (r *Registry) SweepDanglingManifests() []string {
	return r.sweepDangling("")
}

func (r *Registry) sweepDangling(modelType Type) []string {
	var removed []string
	for _, lm := range r.loadManifests() {
		if modelType != "" && lm.manifest.ModelType != modelType {
			continue
		}
		dangling := false
		for _, f := range lm.manifest.Files {
			if _, err := os.Lstat(f.Path); err != nil {
				dangling = true
				break
			}
		}
		if !dangling {
			continue
		}
		if err := os.Remove(lm.path); err != nil {
			r.logger.Warn("remove dangling manifest failed", logging.String("path", lm.path), logging.Error(err))
			continue
		}
		r.logger.Info("removed dangling model manifest", logging.String(logging.FieldModelID, manifestID(lm.path)))
		removed = append(removed, manifestID(lm.path))
	}
	sort.Strings(removed)
	return removed
}

// Sweep runs the orphan, corruption, and dangling-manifest sweeps in that
// order. Files of an in-flight install or of a tool download tracked by a
// Snapshot are not yet in any manifest, so the sweep is skipped while
// either is active.
func (r *Registry) Sweep() SweepReport {
	if !r.installMu.TryLock() {
		r.logger.Debug("sweep skipped; install in progress")
		return SweepReport{Skipped: true}
	}
	defer r.installMu.Unlock()
	if r.watches.Load() > 0 {
		r.logger.Debug("sweep skipped; tool download in progress")
		return SweepReport{Skipped: true}
	}
	return r.sweepLocked()
}

// SweepType checks the integrity of installed models of one type only:
// corrupted files are removed, then manifests left with missing files.
// Files outside any manifest are left alone.
func (r *Registry) SweepType(modelType Type) SweepReport {
	if !r.installMu.TryLock() {
		r.logger.Debug("model type sweep skipped; install in progress", logging.String("model_type", string(modelType)))
		return SweepReport{Skipped: true}
	}
	defer r.installMu.Unlock()
	if r.watches.Load() > 0 {
		return SweepReport{Skipped: true}
	}
	return SweepReport{
		Corrupted: r.sweepCorrupted(modelType),
		Manifests: r.sweepDangling(modelType),
	}
}

func (r *Registry) sweepLocked() SweepReport {
	return SweepReport{
		Orphans:   r.SweepOrphans(),
		Corrupted: r.SweepCorrupted(),
		Manifests: r.SweepDanglingManifests(),
	}
}

func manifestID(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".json")
}
