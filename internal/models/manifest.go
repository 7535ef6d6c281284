package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"solasola/internal/fileutil"
	"solasola/internal/fingerprint"
	"solasola/internal/services"
)

// ManifestDirName is the manifest directory inside the models root.
const ManifestDirName = "solasola_manifests"

// FileRecord is one file belonging to an installed model.
type FileRecord struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Hash string `json:"hash"`
}

// Manifest describes an installed model.
type Manifest struct {
	Name              string       `json:"name"`
	RepoID            string       `json:"repo_id,omitempty"`
	ModelKey          string       `json:"model_key,omitempty"`
	ModelType         Type         `json:"model_type"`
	CreationTimestamp float64      `json:"creation_timestamp"`
	FileCount         int          `json:"file_count"`
	TotalSizeBytes    int64        `json:"total_size_bytes"`
	Files             []FileRecord `json:"files"`
}

// Key returns the repo id or model key, whichever is set.
func (m Manifest) Key() string {
	if m.RepoID != "" {
		return m.RepoID
	}
	return m.ModelKey
}

var ignoredModelFiles = map[string]struct{}{
	".DS_Store":                  {},
	fingerprint.ManifestFileName: {},
}

// CollectFiles walks root recursively and records every regular file and
// symlink. Symlinks are recorded and hashed as links, never followed.
func CollectFiles(root string) ([]FileRecord, error) {
	var records []FileRecord
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, skip := ignoredModelFiles[d.Name()]; skip {
			return nil
		}
		info, err := os.Lstat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !info.Mode().IsRegular() && info.Mode()&fs.ModeSymlink == 0 {
			return nil
		}
		records = append(records, FileRecord{
			Path: path,
			Size: info.Size(),
			Hash: fingerprint.HashOrNA(path),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect model files: %w", err)
	}
	return records, nil
}

// NewManifest builds a manifest for ref from the given files.
func NewManifest(ref Ref, files []FileRecord, created time.Time) Manifest {
	m := Manifest{
		Name:              ref.Name,
		ModelType:         ref.Type,
		CreationTimestamp: float64(created.UnixNano()) / 1e9,
		FileCount:         len(files),
		Files:             files,
	}
	if m.Name == "" {
		m.Name = ref.Key
	}
	if ref.Type == TypeDemucs {
		m.ModelKey = ref.Key
	} else {
		m.RepoID = ref.Key
	}
	for _, f := range files {
		m.TotalSizeBytes += f.Size
	}
	return m
}

func writeManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode model manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure manifest dir: %w", err)
	}
	return fileutil.WriteFileAtomic(path, data, 0o644)
}

func readManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode model manifest %s: %w", filepath.Base(path), err)
	}
	return m, nil
}

var manifestIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// SanitizeID validates a manifest id supplied by a client. The ".json"
// suffix is optional. Separators, traversal, and any character outside
// [A-Za-z0-9_.-] are rejected.
func SanitizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	id = strings.TrimSuffix(id, ".json")
	if id == "" || strings.Contains(id, "..") || !manifestIDPattern.MatchString(id) {
		return "", services.Wrap(services.ErrValidation, "models", "sanitize", fmt.Sprintf("invalid model id %q", id), nil)
	}
	return id, nil
}
