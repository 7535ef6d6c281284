package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizeTools()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.ModelsDir) == "" {
		if value, ok := os.LookupEnv(modelsDirEnv); ok && strings.TrimSpace(value) != "" {
			c.Paths.ModelsDir = value
		} else {
			c.Paths.ModelsDir = defaultModelsDir
		}
	}
	var err error
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.UploadDir, err = expandPath(c.Paths.UploadDir); err != nil {
		return fmt.Errorf("paths.upload_dir: %w", err)
	}
	if c.Paths.ModelsDir, err = expandPath(c.Paths.ModelsDir); err != nil {
		return fmt.Errorf("paths.models_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		c.Paths.APIToken = strings.TrimSpace(os.Getenv(apiTokenEnv))
	}
	return nil
}

func (c *Config) normalizePipeline() {
	c.Pipeline.DefaultModel = strings.ToLower(strings.TrimSpace(c.Pipeline.DefaultModel))
	if c.Pipeline.DefaultModel == "" {
		c.Pipeline.DefaultModel = defaultModel
	}
	c.Pipeline.Device = strings.ToLower(strings.TrimSpace(c.Pipeline.Device))
	if c.Pipeline.Device == "" {
		c.Pipeline.Device = defaultDevice
	}
}

func (c *Config) normalizeTools() {
	fill := func(value *string, fallback string) {
		*value = strings.TrimSpace(*value)
		if *value == "" {
			*value = fallback
		}
	}
	fill(&c.Tools.Separator, defaultSeparator)
	fill(&c.Tools.Transcriber, defaultTranscriber)
	fill(&c.Tools.Notation, defaultNotation)
	fill(&c.Tools.GenreClassifier, defaultGenreClassifier)
	fill(&c.Tools.Analyzer, defaultAnalyzer)
	fill(&c.Tools.Installer, defaultInstaller)
	fill(&c.Tools.FFprobe, defaultFFprobe)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
