package workflow

import (
	"fmt"
	"log/slog"
	"strings"

	"solasola/internal/logging"
	"solasola/internal/services"
	"solasola/internal/tasks"
)

// failTask moves the task to cancelled or failed depending on err.
func (m *Manager) failTask(taskID string, logger *slog.Logger, err error) {
	if services.IsCancelled(err) {
		logger.Info("workflow cancelled", logging.String(logging.FieldEventType, "workflow_cancelled"))
		m.ui(taskID, "Processing cancelled.", "Processing was cancelled by the user.", "cancel", tasks.SeverityWarning)
		m.opts.Tasks.MarkCancelled(taskID)
		return
	}
	m.fail(taskID, logger, classifyFailure(err), err)
}

func (m *Manager) fail(taskID string, logger *slog.Logger, message string, err error) {
	attrs := []logging.Attr{
		logging.String("error_kind", services.Kind(err)),
		logging.String("error_message", message),
		logging.String(logging.FieldErrorHint, failureHint(err)),
	}
	if err != nil {
		attrs = append(attrs, logging.Error(err))
	}
	logging.ErrorWithContext(logger, "workflow failed", "workflow_failed", attrs...)
	m.ui(taskID, "A critical error occurred.", "A critical error occurred: "+message, "error", tasks.SeverityError)
	m.opts.Tasks.Fail(taskID, message)
}

// songFailed records a song that could not be processed. The task keeps
// going with the remaining songs.
func (m *Manager) songFailed(taskID string, logger *slog.Logger, song Song, err error) {
	message := classifyFailure(err)
	logging.WarnWithContext(logger, "song failed", "song_failed",
		logging.String(logging.FieldSong, song.Title),
		logging.String("error_kind", services.Kind(err)),
		logging.Error(err),
		logging.String(logging.FieldImpact, "the song has no result directory contents beyond what was written before the failure"),
	)
	m.ui(taskID, fmt.Sprintf("Failed to process '%s'.", song.Title),
		fmt.Sprintf("Failed to process '%s': %s", song.Title, message), "error", tasks.SeverityError)
}

func classifyFailure(err error) string {
	if err == nil {
		return "workflow failed without error detail"
	}
	if message := strings.TrimSpace(services.Details(err).Message); message != "" {
		return message
	}
	return "workflow failed"
}

func failureHint(err error) string {
	switch services.Kind(err) {
	case "validation":
		return "check the submitted files"
	case "configuration":
		return "check the [tools] section of the config file"
	case "external_tool":
		return "inspect the stage stderr in the log for the root cause"
	default:
		return "see the task log for details"
	}
}
