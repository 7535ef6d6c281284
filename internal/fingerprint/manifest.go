package fingerprint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"solasola/internal/fileutil"
)

// ManifestFileName is the sidecar written into every cached asset directory.
const ManifestFileName = ".solasola_manifest.json"

// AssetType names one independently cacheable pipeline output category.
type AssetType string

const (
	AssetStems   AssetType = "stems"
	AssetMIDI    AssetType = "midi"
	AssetABC     AssetType = "abc_files"
	AssetChords  AssetType = "chords"
	AssetLyrics  AssetType = "lyrics"
	assetUnknown AssetType = ""
)

const manifestPerms = 0o644

var expectedExtensions = map[AssetType][]string{
	AssetStems:  {".wav"},
	AssetMIDI:   {".mid"},
	AssetABC:    {".abc"},
	AssetChords: {".srt", ".txt"},
	AssetLyrics: {".srt"},
}

// CacheableAssets lists the asset types the resolver manages, in pipeline order.
func CacheableAssets() []AssetType {
	return []AssetType{AssetStems, AssetMIDI, AssetABC, AssetChords}
}

// ParseAssetType converts a string into a known AssetType.
func ParseAssetType(value string) (AssetType, bool) {
	asset := AssetType(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := expectedExtensions[asset]; !ok {
		return assetUnknown, false
	}
	return asset, true
}

// Extensions returns the file extensions that prove a directory holds real
// output for the asset type.
func (a AssetType) Extensions() []string {
	return append([]string(nil), expectedExtensions[a]...)
}

// Matches reports whether name carries one of the asset's expected extensions.
func (a AssetType) Matches(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range expectedExtensions[a] {
		if ext == want {
			return true
		}
	}
	return false
}

// ManifestEntry records one file in a cache manifest.
type ManifestEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// CacheManifest is the sidecar that vouches for an asset directory.
type CacheManifest struct {
	Files     []ManifestEntry `json:"files"`
	AssetType AssetType       `json:"asset_type,omitempty"`
	CreatedAt time.Time       `json:"created_at,omitzero"`
}

// ReadManifest loads the manifest from dir.
func ReadManifest(dir string) (CacheManifest, error) {
	var manifest CacheManifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return manifest, err
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return manifest, fmt.Errorf("decode manifest: %w", err)
	}
	return manifest, nil
}

// ValidateManifest reports whether dir can be trusted as a cache source for
// assetType. It fails closed: any read, parse, or size discrepancy yields false.
func ValidateManifest(dir string, assetType AssetType) bool {
	manifest, err := ReadManifest(dir)
	if err != nil {
		return false
	}
	return manifest.validate(dir, assetType) == nil
}

func (m CacheManifest) validate(dir string, assetType AssetType) error {
	if len(m.Files) == 0 {
		return errors.New("manifest lists no files")
	}
	hasExpected := false
	for _, entry := range m.Files {
		if entry.Name == "" || entry.Name != filepath.Base(entry.Name) {
			return fmt.Errorf("manifest entry %q is not a plain file name", entry.Name)
		}
		info, err := os.Stat(filepath.Join(dir, entry.Name))
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() || info.Size() != entry.Size {
			return fmt.Errorf("manifest entry %q size mismatch", entry.Name)
		}
		if assetType.Matches(entry.Name) {
			hasExpected = true
		}
	}
	if !hasExpected {
		return fmt.Errorf("manifest has no %s file", assetType)
	}
	return nil
}

// WriteManifest records every regular file directly inside dir. It writes
// nothing and returns false when no file carries the asset's expected
// extension, since an empty or foreign directory must not become a cache
// source.
func WriteManifest(dir string, assetType AssetType) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("scan %s: %w", dir, err)
	}

	manifest := CacheManifest{AssetType: assetType, CreatedAt: time.Now().UTC()}
	hasExpected := false
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == ManifestFileName || strings.HasPrefix(name, "."+ManifestFileName) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return false, fmt.Errorf("stat %s: %w", name, err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		manifest.Files = append(manifest.Files, ManifestEntry{Name: name, Size: info.Size()})
		if assetType.Matches(name) {
			hasExpected = true
		}
	}
	if !hasExpected {
		return false, nil
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encode manifest: %w", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(dir, ManifestFileName), data, manifestPerms); err != nil {
		return false, fmt.Errorf("write manifest: %w", err)
	}
	return true, nil
}
