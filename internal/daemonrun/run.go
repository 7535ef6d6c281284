package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"solasola/internal/cacheindex"
	"solasola/internal/config"
	"solasola/internal/daemon"
	"solasola/internal/deps"
	"solasola/internal/events"
	"solasola/internal/logging"
	"solasola/internal/models"
	"solasola/internal/notation"
	"solasola/internal/stageexec"
	"solasola/internal/tasks"
	"solasola/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	Version     string
}

// Run starts the solasola daemon and blocks until the process is signalled
// or cmdCtx is cancelled.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", cfg.LogFilePath()},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	svc, err := build(signalCtx, cfg, opts, logger)
	if err != nil {
		logging.ErrorWithContext(logger, "daemon wiring failed", "daemon_wiring_failed", logging.Error(err))
		return err
	}
	defer svc.close()

	if err := svc.daemon.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check api_bind and that no other daemon holds "+cfg.LockPath()),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("solasola daemon shutting down", logging.Int("active_tasks", len(svc.workflow.Active())))
	svc.daemon.Stop()
	return nil
}

type wiring struct {
	daemon   *daemon.Daemon
	workflow *workflow.Manager
	index    *cacheindex.Store
}

func (s *wiring) close() {
	if s.index != nil {
		_ = s.index.Close()
	}
}

// build wires the registries, the external tool adapters, and the pipeline
// into a daemon.
func build(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (*wiring, error) {
	broadcaster := events.NewBroadcaster(logger)
	registry := tasks.NewRegistry(tasks.Options{
		Publisher:   broadcaster,
		Logger:      logger,
		CancelGrace: cfg.CancelGrace(),
		BaseContext: ctx,
	})

	xet := models.NewXetActor(models.XetOptions{
		Dir:     cfg.XetDir(),
		Enabled: cfg.Models.XetCleanupEnabled,
		MinWait: cfg.XetMinWait(),
		Logger:  logger,
	})
	modelRegistry, err := models.NewRegistry(models.Options{
		Root:        cfg.Paths.ModelsDir,
		ManifestDir: cfg.ManifestDir(),
		Excluded:    []string{cfg.XetDir()},
		Tasks:       registry,
		Publisher:   broadcaster,
		Xet:         xet,
		Stats:       models.NewDownloadStats(filepath.Join(cfg.Paths.ModelsDir, models.StatsFileName), cfg.Models.StatsHistory, cfg.DefaultDownloadRate()),
		Installer:   strings.Fields(cfg.Tools.Installer),
		Device:      cfg.Pipeline.Device,
		CancelGrace: cfg.CancelGrace(),
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("model registry: %w", err)
	}

	svc := &wiring{}
	var index workflow.ResultIndex
	if store, err := cacheindex.Open(cfg.CacheIndexPath()); err != nil {
		logging.WarnWithContext(logger, "result index unavailable", "cache_index_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "cache recency falls back to result markers and mtimes"),
		)
	} else {
		svc.index = store
		index = store
	}

	tools := workflow.NewToolSet(cfg, registry, logger)
	if genre, err := models.LookupRef(string(models.TypeGenre), ""); err == nil {
		tools.GenreModelDir = modelRegistry.ModelDir(genre)
	}
	collaborators := workflow.Collaborators{
		Prober:      tools,
		Separator:   tools,
		Transcriber: tools,
		Notation: &notation.Generator{
			Command: strings.Fields(cfg.Tools.Notation),
			Runner:  stageexec.Run,
			Logger:  logger,
		},
		Analyzer: tools,
	}
	if len(tools.GenreClassifier) > 0 {
		collaborators.Genre = tools
	}

	svc.workflow = workflow.NewManager(workflow.Options{
		Tasks:      registry,
		Index:      index,
		Models:     modelRegistry,
		OutputRoot: cfg.Paths.OutputDir,
		Durations: workflow.DurationPolicy{
			Tolerance:     cfg.DurationTolerance(),
			LyricsDefault: cfg.DefaultLyricsDuration(),
		},
		DefaultModel:  cfg.Pipeline.DefaultModel,
		DefaultDevice: cfg.Pipeline.Device,
		Version:       opts.Version,
		Tools:         collaborators,
		Logger:        logger,
	})

	svc.daemon, err = daemon.New(daemon.Options{
		Config:   cfg,
		Tasks:    registry,
		Events:   broadcaster,
		Workflow: svc.workflow,
		Models:   modelRegistry,
		Xet:      xet,
		Version:  opts.Version,
		Logger:   logger,
	})
	if err != nil {
		svc.close()
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	return svc, nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	statuses := deps.CheckBinaries(deps.ToolRequirements(cfg))
	ffmpeg := deps.CheckFFmpeg(cfg.Tools.FFprobe)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("ffmpeg_available", ffmpeg.Available),
		logging.String("ffmpeg_binary", ffmpeg.Command),
	}
	for _, status := range statuses {
		key := strings.ReplaceAll(strings.ToLower(status.Name), " ", "_")
		attrs = append(attrs, logging.Bool(key+"_available", status.Available))
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
	if missing := deps.MissingRequired(statuses); len(missing) > 0 {
		logging.WarnWithContext(logger, "required tools missing", "dependency_missing",
			logging.String("tools", strings.Join(missing, ", ")),
			logging.String(logging.FieldErrorHint, "install the tools or point [tools] at them in the config"),
			logging.String(logging.FieldImpact, "submissions needing these stages will fail"),
		)
	}
}
