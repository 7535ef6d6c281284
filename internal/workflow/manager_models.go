package workflow

import (
	"solasola/internal/logging"
	"solasola/internal/models"
	"solasola/internal/tasks"
)

// ModelTracker is implemented by model stores that can check one model
// type and adopt weights a tool downloads on its own. *models.Registry
// satisfies it.
type ModelTracker interface {
	SweepType(modelType models.Type) models.SweepReport
	Snapshot() (*models.Snapshot, error)
	RegisterNew(ref models.Ref, before *models.Snapshot) ([]string, error)
}

// trackSeparatorModel checks installed separator models and snapshots the
// models root before the separator runs. The returned func must be called
// once the separator exits: on success the files it downloaded are listed
// in the model's manifest, otherwise the snapshot is only released and any
// partial download is left for the next sweep.
func (m *Manager) trackSeparatorModel(run *songRun) func(ok bool) {
	tracker, isTracker := m.opts.Models.(ModelTracker)
	if !isTracker {
		return func(bool) {}
	}
	if report := tracker.SweepType(models.TypeDemucs); !report.Empty() {
		run.logger.Info("separator model check removed files",
			logging.Int("corrupted", len(report.Corrupted)),
			logging.Int("manifests", len(report.Manifests)),
		)
	}
	snap, err := tracker.Snapshot()
	if err != nil {
		logging.WarnWithContext(run.logger, "model snapshot failed", "model_snapshot_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "weights downloaded by the separator may be swept and fetched again"),
		)
		return func(bool) {}
	}
	ref := separatorRef(run.job.Model)
	return func(ok bool) {
		if !ok {
			snap.Release()
			return
		}
		paths, err := tracker.RegisterNew(ref, snap)
		if err != nil {
			logging.WarnWithContext(run.logger, "model registration failed", "model_register_failed",
				logging.Error(err),
				logging.String(logging.FieldModelID, ref.ID()),
				logging.String(logging.FieldImpact, "weights downloaded by the separator may be swept and fetched again"),
			)
			return
		}
		if len(paths) > 0 {
			m.opts.Tasks.LogToUI(run.taskID, "Registered downloaded separation model "+ref.Key, "download_done", tasks.SeverityInfo, tasks.AudienceLog)
		}
	}
}

func separatorRef(model string) models.Ref {
	if ref, err := models.LookupRef(string(models.TypeDemucs), model); err == nil {
		return ref
	}
	return models.Ref{Type: models.TypeDemucs, Key: model, Name: model}
}
