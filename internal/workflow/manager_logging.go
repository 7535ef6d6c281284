package workflow

import (
	"context"
	"log/slog"

	"solasola/internal/logging"
	"solasola/internal/services"
	"solasola/internal/tasks"
)

func (m *Manager) taskLogger(ctx context.Context) *slog.Logger {
	return logging.WithContext(ctx, m.logger)
}

// stageContext tags ctx with the stage name so subprocess and cache logs
// carry it.
func stageContext(ctx context.Context, stage string) context.Context {
	return services.WithStage(ctx, stage)
}

// ui sends a short toast and a longer log line for the same event.
func (m *Manager) ui(taskID, toast, detail, icon string, severity tasks.Severity) {
	m.opts.Tasks.LogToUI(taskID, toast, icon, severity, tasks.AudienceToast)
	m.opts.Tasks.LogToUI(taskID, detail, icon, severity, tasks.AudienceLog)
}

// warn reports a recoverable problem to the submitter.
func (m *Manager) warn(taskID, toast, detail, icon string) {
	m.ui(taskID, toast, detail, icon, tasks.SeverityWarning)
}
