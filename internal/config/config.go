package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	OutputDir string `toml:"output_dir"`
	UploadDir string `toml:"upload_dir"`
	ModelsDir string `toml:"models_dir"`
	LogDir    string `toml:"log_dir"`
	APIBind   string `toml:"api_bind"`
	// APIToken, when set, is required as a bearer token on every API call.
	APIToken string `toml:"api_token"`
}

// Pipeline contains processing defaults and validation heuristics.
type Pipeline struct {
	DurationToleranceSeconds     float64 `toml:"duration_tolerance_seconds"`
	DefaultLyricsDurationSeconds float64 `toml:"default_lyrics_duration_seconds"`
	DefaultModel                 string  `toml:"default_model"`
	Device                       string  `toml:"device"`
}

// Tools lists the external collaborator commands. Each value is split on
// whitespace, so interpreter prefixes like "python3 -m pkg" are allowed.
type Tools struct {
	Separator       string `toml:"separator"`
	Transcriber     string `toml:"transcriber"`
	Notation        string `toml:"notation"`
	GenreClassifier string `toml:"genre_classifier"`
	Analyzer        string `toml:"analyzer"`
	Installer       string `toml:"installer"`
	FFprobe         string `toml:"ffprobe"`
}

// Tasks contains task registry retention settings.
type Tasks struct {
	ReaperIntervalMinutes int `toml:"reaper_interval_minutes"`
	RetentionMinutes      int `toml:"retention_minutes"`
	CancelGraceSeconds    int `toml:"cancel_grace_seconds"`
}

// Models contains model artifact registry settings.
type Models struct {
	DefaultDownloadRateMBps float64 `toml:"default_download_rate_mbps"`
	StatsHistory            int     `toml:"stats_history"`
	XetCleanupEnabled       bool    `toml:"xet_cleanup_enabled"`
	XetMinWaitMinutes       int     `toml:"xet_min_wait_minutes"`
	SweepOnStartup          bool    `toml:"sweep_on_startup"`
}

// Events contains event stream settings.
type Events struct {
	HeartbeatSeconds int `toml:"heartbeat_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for solasola.
//
// Configuration sections by subsystem:
//   - Paths: output, upload, model, and log directories plus the API bind address
//   - Pipeline: duration tolerance, lyrics-only default duration, model and device defaults
//   - Tools: external stage commands
//   - Tasks: reaper cadence, retention, and cancellation grace
//   - Models: download-rate estimation and scratch cache cleanup
//   - Events: heartbeat cadence for event subscribers
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Pipeline Pipeline `toml:"pipeline"`
	Tools    Tools    `toml:"tools"`
	Tasks    Tasks    `toml:"tasks"`
	Models   Models   `toml:"models"`
	Events   Events   `toml:"events"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("solasola.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.UploadDir, c.Paths.ModelsDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DurationTolerance is the maximum allowed spread between audio input durations.
func (c *Config) DurationTolerance() time.Duration {
	return secondsToDuration(c.Pipeline.DurationToleranceSeconds)
}

// DefaultLyricsDuration is the implied song length when only lyrics are supplied.
func (c *Config) DefaultLyricsDuration() time.Duration {
	return secondsToDuration(c.Pipeline.DefaultLyricsDurationSeconds)
}

// ReaperInterval returns how often terminal tasks are swept.
func (c *Config) ReaperInterval() time.Duration {
	return time.Duration(c.Tasks.ReaperIntervalMinutes) * time.Minute
}

// TaskRetention returns how long terminal tasks are kept.
func (c *Config) TaskRetention() time.Duration {
	return time.Duration(c.Tasks.RetentionMinutes) * time.Minute
}

// CancelGrace returns the wait between graceful and forced termination.
func (c *Config) CancelGrace() time.Duration {
	return time.Duration(c.Tasks.CancelGraceSeconds) * time.Second
}

// HeartbeatInterval returns the idle window before subscribers receive a heartbeat.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Events.HeartbeatSeconds) * time.Second
}

// DefaultDownloadRate returns the fallback download rate in bytes per second.
func (c *Config) DefaultDownloadRate() float64 {
	return c.Models.DefaultDownloadRateMBps * 1024 * 1024
}

// XetMinWait returns the minimum delay before the scratch cache is removed.
func (c *Config) XetMinWait() time.Duration {
	return time.Duration(c.Models.XetMinWaitMinutes) * time.Minute
}

// XetDir returns the shared scratch cache directory used by model downloads.
func (c *Config) XetDir() string {
	return filepath.Join(c.Paths.ModelsDir, "xet")
}

// ManifestDir returns the directory holding model manifests.
func (c *Config) ManifestDir() string {
	return filepath.Join(c.Paths.ModelsDir, "solasola_manifests")
}

// CacheIndexPath returns the sqlite result index location.
func (c *Config) CacheIndexPath() string {
	return filepath.Join(c.Paths.LogDir, "results.db")
}

// LockPath returns the daemon single-instance lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "solasola.lock")
}

// LogFilePath returns the daemon log file written alongside stdout.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "solasola.log")
}

// PIDPath returns the file the daemon records its process id in.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.LogDir, "solasola.pid")
}

// CommandLine splits a configured tool command into binary and arguments.
func CommandLine(value string) (string, []string) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
