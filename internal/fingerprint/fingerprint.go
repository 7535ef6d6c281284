package fingerprint

import (
	"errors"
	"fmt"
	"strings"
)

const (
	contentPrefixLen  = 12
	settingsPrefixLen = 8
)

// Processing modes accepted by the pipeline.
const (
	ModeFullAnalysis = "full_analysis"
	ModeLyricsOnly   = "lyrics_only"
)

// Settings are the processing options that change pipeline output. Any field
// added here must also be added to Normalized.
type Settings struct {
	Mode  string
	Model string
}

// Normalized renders settings in the canonical form that is hashed. The
// trailing "na" slot is reserved for options that do not yet exist so older
// fingerprints stay stable when one is introduced.
func (s Settings) Normalized() string {
	mode := strings.ToLower(strings.TrimSpace(s.Mode))
	model := strings.ToLower(strings.TrimSpace(s.Model))
	if model == "" {
		model = "none"
	}
	return fmt.Sprintf("%s-%s|na", mode, model)
}

// Compute returns the cache key for a job: a prefix of the primary input's
// content hash joined to a prefix of the settings hash.
func Compute(primaryInput string, settings Settings) (string, error) {
	if strings.TrimSpace(primaryInput) == "" {
		return "", errors.New("fingerprint: primary input is required")
	}
	contentHash, err := HashFile(primaryInput)
	if err != nil {
		return "", fmt.Errorf("fingerprint: hash primary input: %w", err)
	}
	return FromHashes(contentHash, settings), nil
}

// FromHashes builds a fingerprint from an already computed content hash.
func FromHashes(contentHash string, settings Settings) string {
	settingsHash := HashString(settings.Normalized())
	return prefix(contentHash, contentPrefixLen) + "_" + prefix(settingsHash, settingsPrefixLen)
}

func prefix(value string, n int) string {
	if len(value) <= n {
		return value
	}
	return value[:n]
}
