package config

const (
	defaultConfigPath               = "~/.config/solasola/config.toml"
	defaultOutputDir                = "~/.local/share/solasola/results"
	defaultUploadDir                = "~/.local/share/solasola/uploads"
	defaultModelsDir                = "~/.cache/huggingface"
	defaultLogDir                   = "~/.local/share/solasola/logs"
	defaultAPIBind                  = "127.0.0.1:7490"
	defaultDurationTolerance        = 1.5
	defaultLyricsDuration           = 210
	defaultModel                    = "htdemucs"
	defaultDevice                   = "cpu"
	defaultSeparator                = "demucs"
	defaultTranscriber              = "solasola-basic-pitch"
	defaultNotation                 = "midi2abc"
	defaultGenreClassifier          = "solasola-genre"
	defaultAnalyzer                 = "solasola-analyze"
	defaultInstaller                = "solasola-install-model"
	defaultFFprobe                  = "ffprobe"
	defaultReaperIntervalMinutes    = 60
	defaultRetentionMinutes         = 120
	defaultCancelGraceSeconds       = 5
	defaultDownloadRateMBps         = 12
	defaultStatsHistory             = 10
	defaultXetMinWaitMinutes        = 5
	defaultEventsHeartbeatSeconds   = 15
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	modelsDirEnv                    = "HF_HOME"
	apiTokenEnv                     = "SOLASOLA_API_TOKEN"
	defaultSweepOnStartup           = true
	defaultXetCleanupEnabled        = false
	minimumEventsHeartbeatSeconds   = 1
	minimumReaperIntervalMinutes    = 1
	maximumDurationToleranceSeconds = 60
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			UploadDir: defaultUploadDir,
			ModelsDir: "",
			LogDir:    defaultLogDir,
			APIBind:   defaultAPIBind,
		},
		Pipeline: Pipeline{
			DurationToleranceSeconds:     defaultDurationTolerance,
			DefaultLyricsDurationSeconds: defaultLyricsDuration,
			DefaultModel:                 defaultModel,
			Device:                       defaultDevice,
		},
		Tools: Tools{
			Separator:       defaultSeparator,
			Transcriber:     defaultTranscriber,
			Notation:        defaultNotation,
			GenreClassifier: defaultGenreClassifier,
			Analyzer:        defaultAnalyzer,
			Installer:       defaultInstaller,
			FFprobe:         defaultFFprobe,
		},
		Tasks: Tasks{
			ReaperIntervalMinutes: defaultReaperIntervalMinutes,
			RetentionMinutes:      defaultRetentionMinutes,
			CancelGraceSeconds:    defaultCancelGraceSeconds,
		},
		Models: Models{
			DefaultDownloadRateMBps: defaultDownloadRateMBps,
			StatsHistory:            defaultStatsHistory,
			XetCleanupEnabled:       defaultXetCleanupEnabled,
			XetMinWaitMinutes:       defaultXetMinWaitMinutes,
			SweepOnStartup:          defaultSweepOnStartup,
		},
		Events: Events{
			HeartbeatSeconds: defaultEventsHeartbeatSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
