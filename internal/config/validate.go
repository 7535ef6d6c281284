package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateTasks(); err != nil {
		return err
	}
	if err := c.validateModels(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.DurationToleranceSeconds < 0 || c.Pipeline.DurationToleranceSeconds > maximumDurationToleranceSeconds {
		return fmt.Errorf("pipeline.duration_tolerance_seconds must be between 0 and %d", maximumDurationToleranceSeconds)
	}
	if c.Pipeline.DefaultLyricsDurationSeconds <= 0 {
		return errors.New("pipeline.default_lyrics_duration_seconds must be positive")
	}
	switch c.Pipeline.Device {
	case "cpu", "cuda", "mps":
	default:
		return fmt.Errorf("pipeline.device: unsupported value %q", c.Pipeline.Device)
	}
	return nil
}

func (c *Config) validateTasks() error {
	if c.Tasks.ReaperIntervalMinutes < minimumReaperIntervalMinutes {
		return fmt.Errorf("tasks.reaper_interval_minutes must be at least %d", minimumReaperIntervalMinutes)
	}
	if c.Tasks.RetentionMinutes <= 0 {
		return errors.New("tasks.retention_minutes must be positive")
	}
	if c.Tasks.CancelGraceSeconds < 0 {
		return errors.New("tasks.cancel_grace_seconds must be non-negative")
	}
	return nil
}

func (c *Config) validateModels() error {
	if c.Models.DefaultDownloadRateMBps <= 0 {
		return errors.New("models.default_download_rate_mbps must be positive")
	}
	if c.Models.StatsHistory <= 0 {
		return errors.New("models.stats_history must be positive")
	}
	if c.Models.XetMinWaitMinutes < 0 {
		return errors.New("models.xet_min_wait_minutes must be non-negative")
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.HeartbeatSeconds < minimumEventsHeartbeatSeconds {
		return fmt.Errorf("events.heartbeat_seconds must be at least %d", minimumEventsHeartbeatSeconds)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
