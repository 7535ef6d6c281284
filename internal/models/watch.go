package models

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"solasola/internal/fingerprint"
	"solasola/internal/logging"
	"solasola/internal/services"
)

// Snapshot is the set of files under the models root at one point in time.
// While a snapshot is held, sweeps are skipped so that weights a tool is
// downloading on its own are not removed as orphans.
type Snapshot struct {
	files   map[string]struct{}
	release func()
}

// Release ends the hold a snapshot places on sweeps. It is safe to call
// more than once and on a nil snapshot.
func (s *Snapshot) Release() {
	if s != nil && s.release != nil {
		s.release()
	}
}

// Len reports how many files the snapshot recorded.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.files)
}

// Snapshot records every file under the models root. Pair it with
// RegisterNew (or Release) once the tool that may download weights exits.
func (r *Registry) Snapshot() (*Snapshot, error) {
	files := make(map[string]struct{})
	r.watches.Add(1)
	var once sync.Once
	snap := &Snapshot{
		files:   files,
		release: func() { once.Do(func() { r.watches.Add(-1) }) },
	}
	err := r.walkModelFiles(func(path string, _ fs.FileInfo) {
		files[path] = struct{}{}
	})
	if err != nil {
		snap.Release()
		return nil, fmt.Errorf("snapshot models root: %w", err)
	}
	return snap, nil
}

// RegisterNew records every file that appeared under the models root since
// before was taken, and that no manifest lists yet, in the manifest of ref.
// An existing manifest for ref is extended rather than replaced. It waits
// for a running install so that files of that install are never claimed.
// The snapshot is released in every case. It returns the newly listed paths.
func (r *Registry) RegisterNew(ref Ref, before *Snapshot) ([]string, error) {
	defer before.Release()
	if ref.Key == "" {
		return nil, services.Wrap(services.ErrValidation, "models", "register", "model key is required", nil)
	}
	if before == nil {
		return nil, services.Wrap(services.ErrValidation, "models", "register", "snapshot is required", nil)
	}

	r.installMu.Lock()
	defer r.installMu.Unlock()

	known := make(map[string]struct{})
	var existing []FileRecord
	manifestPath := r.ManifestPath(ref.ID())
	for _, lm := range r.loadManifests() {
		for _, f := range lm.manifest.Files {
			known[filepath.Clean(f.Path)] = struct{}{}
		}
		if lm.path == manifestPath {
			existing = lm.manifest.Files
		}
	}

	var added []FileRecord
	err := r.walkModelFiles(func(path string, info fs.FileInfo) {
		if _, ok := before.files[path]; ok {
			return
		}
		if _, ok := known[path]; ok {
			return
		}
		added = append(added, FileRecord{Path: path, Size: info.Size(), Hash: fingerprint.HashOrNA(path)})
	})
	if err != nil {
		return nil, fmt.Errorf("scan models root: %w", err)
	}
	if len(added) == 0 {
		return nil, nil
	}
	sort.Slice(added, func(i, j int) bool { return added[i].Path < added[j].Path })

	files := append(append([]FileRecord(nil), existing...), added...)
	if err := writeManifest(manifestPath, NewManifest(ref, files, time.Now())); err != nil {
		return nil, fmt.Errorf("write model manifest: %w", err)
	}
	paths := make([]string, len(added))
	for i, f := range added {
		paths[i] = f.Path
	}
	r.logger.Info("registered downloaded model files",
		logging.String(logging.FieldModelID, ref.ID()),
		logging.Int("files", len(added)),
		logging.Any("paths", paths),
		logging.String(logging.FieldEventType, "model_files_registered"),
	)
	return paths, nil
}

// walkModelFiles visits every regular file and symlink under the root that
// sweeps are allowed to touch.
func (r *Registry) walkModelFiles(fn func(path string, info fs.FileInfo)) error {
	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
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
		info, err := os.Lstat(path)
		if err != nil {
			return nil
		}
		if !info.Mode().IsRegular() && info.Mode()&fs.ModeSymlink == 0 {
			return nil
		}
		fn(filepath.Clean(path), info)
		return nil
	})
	return err
}
