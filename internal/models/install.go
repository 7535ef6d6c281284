package models

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"solasola/internal/events"
	"solasola/internal/logging"
	"solasola/internal/services"
	"solasola/internal/stageexec"
	"solasola/internal/tasks"
)

// Install starts an asynchronous installation and returns its task id.
// ErrBusy is returned when another install holds the lock in this or any
// other process.
func (r *Registry) Install(ctx context.Context, ref Ref) (string, error) {
	taskID, release, err := r.beginInstall(ref)
	if err != nil {
		return "", err
	}
	go func() {
		defer release()
		_ = r.runInstall(taskID, ref)
	}()
	return taskID, nil
}

// InstallSync installs ref and waits for the result. Cancelling ctx cancels
// the install task.
func (r *Registry) InstallSync(ctx context.Context, ref Ref) (string, error) {
	taskID, release, err := r.beginInstall(ref)
	if err != nil {
		return "", err
	}
	defer release()
	if ctx != nil {
		stop := context.AfterFunc(ctx, func() { _ = r.tasks.RequestCancel(taskID) })
		defer stop()
	}
	return taskID, r.runInstall(taskID, ref)
}

func (r *Registry) beginInstall(ref Ref) (string, func(), error) {
	if ref.Key == "" {
		return "", nil, services.Wrap(services.ErrValidation, "models", "install", "model key is required", nil)
	}
	if len(r.installer) == 0 {
		return "", nil, services.Wrap(services.ErrConfiguration, "models", "install", "installer command is not configured", nil)
	}
	if !r.installMu.TryLock() {
		return "", nil, services.Wrap(services.ErrBusy, "models", "install", "another installation is in progress", nil)
	}
	if err := os.MkdirAll(filepath.Dir(r.lockPath), 0o755); err != nil {
		r.installMu.Unlock()
		return "", nil, fmt.Errorf("ensure lock dir: %w", err)
	}
	lock := flock.New(r.lockPath)
	locked, err := lock.TryLock()
	if err != nil || !locked {
		r.installMu.Unlock()
		return "", nil, services.Wrap(services.ErrBusy, "models", "install", "another process is installing a model", err)
	}

	task := r.tasks.Create(tasks.KindInstall, tasks.WithModelKey(ref.Key), tasks.WithStep("Preparing installation..."))
	release := func() {
		_ = lock.Unlock()
		r.installMu.Unlock()
		r.broadcast(events.TypeRefreshAll, task.ID, ref.Key, "completed", 100, "Task finished.")
	}
	return task.ID, release, nil
}

func (r *Registry) runInstall(taskID string, ref Ref) error {
	ctx := services.WithStage(r.tasks.Context(taskID), "install")
	logger := logging.WithContext(ctx, r.logger).With(
		logging.String(logging.FieldModelID, ref.ID()),
		logging.String("model_key", ref.Key),
	)

	r.sweepLocked()

	r.tasks.UpdateStatus(taskID, 5, "Starting download...")
	r.tasks.LogToUI(taskID, "Downloading model...", "download", tasks.SeverityInfo, tasks.AudienceToast)
	r.tasks.LogToUI(taskID, "Starting download for model: "+ref.Key, "download", tasks.SeverityInfo, tasks.AudienceLog)

	target := r.ModelDir(ref)
	artifact := filepath.Join(os.TempDir(), "solasola-install-"+taskID+".error.json")
	args := append([]string(nil), r.installer[1:]...)
	args = append(args,
		"--model_type", string(ref.Type),
		"--device", r.device,
		"--repo_id", ref.Key,
		"--target", target,
		"--error-artifact", artifact,
	)

	estimate := r.stats.Estimate(ref.ExpectedBytes)
	logger.Info("model install started",
		logging.Duration("estimate", estimate),
		logging.String(logging.FieldEventType, "model_install_start"),
	)

	r.xet.Start()
	started := time.Now()
	estimator := tasks.StartEstimator(ctx, estimate, time.Second, func(percent float64) {
		r.tasks.UpdateStatus(taskID, percent, "Downloading...")
		r.broadcast(events.TypeProgressUpdate, taskID, ref.Key, "running", percent, "Downloading...")
	})
	err := r.runner(ctx, stageexec.Command{
		Name:          r.installer[0],
		Args:          args,
		ErrorArtifact: artifact,
	}, stageexec.Options{
		Logger: logger,
		Grace:  r.grace,
		Attach: func(p *stageexec.Process) { r.tasks.AttachProcess(taskID, p) },
		Detach: func() { r.tasks.DetachProcess(taskID) },
		OnLine: func(line string) { logger.Debug("installer output", logging.String("line", line)) },
	})
	estimator.Stop()
	downloadDuration := time.Since(started)
	r.xet.Finish(downloadDuration)
	_ = os.Remove(artifact)

	if err == nil {
		err = r.tasks.CheckCancelled(ctx, taskID)
	}
	if err == nil {
		err = r.finalizeInstall(taskID, ref, target, downloadDuration, logger)
	}
	if err == nil {
		return nil
	}

	if services.IsCancelled(err) {
		_ = os.RemoveAll(target)
		r.tasks.MarkCancelled(taskID)
		r.broadcast(events.TypeStatusUpdate, taskID, ref.Key, "cancelled", 0, "Installation cancelled")
		logger.Info("model install cancelled", logging.String(logging.FieldEventType, "model_install_cancelled"))
		return err
	}

	if rmErr := os.RemoveAll(target); rmErr == nil {
		r.tasks.LogToUI(taskID, "Installation failed. Cleaning up...", "delete", tasks.SeverityError, tasks.AudienceToast)
		r.tasks.LogToUI(taskID, fmt.Sprintf("Installation failed for '%s'. Attempting to clean up partial files.", ref.Key), "delete", tasks.SeverityError, tasks.AudienceLog)
	}
	details := services.Details(err)
	r.tasks.Fail(taskID, details.Message)
	r.broadcast(events.TypeStatusUpdate, taskID, ref.Key, "failed", 0, details.Message)
	logging.ErrorWithContext(logger, "model install failed", "model_install_failed",
		logging.Error(err),
		logging.String("error_kind", details.Kind),
		logging.String(logging.FieldErrorHint, "check installer output and network access, then retry"),
	)
	return err
}

func (r *Registry) finalizeInstall(taskID string, ref Ref, target string, downloadDuration time.Duration, logger *slog.Logger) error {
	r.tasks.UpdateStatus(taskID, 100, "Creating manifest...")
	r.tasks.LogToUI(taskID, "Finalizing installation...", "fingerprint", tasks.SeverityInfo, tasks.AudienceToast)
	r.tasks.LogToUI(taskID, "Download complete. Creating installation manifest...", "fingerprint", tasks.SeverityInfo, tasks.AudienceLog)
	r.broadcast(events.TypeProgressUpdate, taskID, ref.Key, "running", 100, "Creating manifest...")

	if _, err := os.Stat(target); err != nil {
		return services.Wrap(services.ErrExternalTool, "install", "verify", "model directory not found after download", err)
	}
	files, err := CollectFiles(target)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "install", "verify", "could not read installed files", err)
	}
	if len(files) == 0 {
		return services.Wrap(services.ErrExternalTool, "install", "verify", "installer produced no files", nil)
	}
	manifest := NewManifest(ref, files, time.Now())
	if err := writeManifest(r.ManifestPath(ref.ID()), manifest); err != nil {
		return fmt.Errorf("write model manifest: %w", err)
	}
	if err := r.stats.Record(manifest.TotalSizeBytes, downloadDuration); err != nil {
		logger.Warn("download statistics not updated", logging.Error(err))
	}

	r.tasks.LogToUI(taskID, "Model installed successfully.", "done", tasks.SeveritySuccess, tasks.AudienceToast)
	r.tasks.LogToUI(taskID, fmt.Sprintf("Model '%s' installed and verified successfully.", ref.Key), "done", tasks.SeveritySuccess, tasks.AudienceLog)
	r.tasks.Complete(taskID, map[string]any{
		"model_id":   ref.ID(),
		"file_count": manifest.FileCount,
		"size_bytes": manifest.TotalSizeBytes,
	})
	logger.Info("model installed",
		logging.Int("files", manifest.FileCount),
		logging.Int64("bytes", manifest.TotalSizeBytes),
		logging.Duration("download_duration", downloadDuration),
		logging.Float64("avg_bytes_per_sec", r.stats.Rate()),
		logging.String(logging.FieldEventType, "model_install_complete"),
	)
	return nil
}
