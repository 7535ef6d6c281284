package api

import (
	"solasola/internal/deps"
	"solasola/internal/models"
	"solasola/internal/tasks"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// SubmitFile names one uploaded file. Kind is optional; the daemon
// classifies by extension when it is empty.
type SubmitFile struct {
	Path string `json:"path" validate:"required"`
	Kind string `json:"kind,omitempty" validate:"omitempty,oneof=audio midi lyrics"`
}

// SubmitRequest starts a processing task.
type SubmitRequest struct {
	Files            []SubmitFile `json:"files" validate:"required,min=1,dive"`
	Mode             string       `json:"mode,omitempty" validate:"omitempty,oneof=full_analysis full abc lyrics_only lyrics"`
	Model            string       `json:"model,omitempty" validate:"omitempty,max=64"`
	Device           string       `json:"device,omitempty" validate:"omitempty,oneof=cpu cuda mps"`
	Title            string       `json:"title,omitempty" validate:"omitempty,max=200"`
	KeepModelsCached bool         `json:"keep_models_cached,omitempty"`
}

// SubmitResponse identifies the created task.
type SubmitResponse struct {
	TaskID      string   `json:"task_id"`
	Unsupported []string `json:"unsupported,omitempty"`
}

// InstallRequest starts a model installation. Ref is the catalog key; an
// empty ref selects the default genre model.
type InstallRequest struct {
	ModelType string `json:"model_type" validate:"required,oneof=genre demucs"`
	Ref       string `json:"ref,omitempty" validate:"omitempty,max=200"`
}

// InstallResponse identifies the install task.
type InstallResponse struct {
	TaskID string `json:"task_id"`
}

// CancelResponse acknowledges a cancellation request.
type CancelResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// TaskSummary is the list view of a task.
type TaskSummary struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	CurrentStep string  `json:"current_step"`
	Error       string  `json:"error,omitempty"`
	ModelKey    string  `json:"model_key,omitempty"`
	CreatedAt   string  `json:"created_at,omitempty"`
	UpdatedAt   string  `json:"updated_at,omitempty"`
}

// TaskView is the full view of a task.
type TaskView struct {
	TaskSummary
	CancelRequested bool             `json:"cancel_requested"`
	Details         tasks.Details    `json:"progress_details"`
	Layout          tasks.Layout     `json:"layout,omitempty"`
	Logs            []tasks.LogEntry `json:"ui_logs,omitempty"`
	Results         map[string]any   `json:"results,omitempty"`
}

// TaskListResponse wraps a collection of task summaries.
type TaskListResponse struct {
	Tasks []TaskSummary `json:"tasks"`
}

// ModelListResponse wraps the model status list.
type ModelListResponse struct {
	Models []models.Status `json:"models"`
}

// HealthResponse reports daemon liveness and tool availability.
type HealthResponse struct {
	Status       string        `json:"status"`
	Version      string        `json:"version,omitempty"`
	PID          int           `json:"pid"`
	ActiveTasks  int           `json:"active_tasks"`
	Subscribers  int           `json:"subscribers"`
	LockFilePath string        `json:"lock_file_path,omitempty"`
	Dependencies []deps.Status `json:"dependencies"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Kind   string            `json:"kind,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}
