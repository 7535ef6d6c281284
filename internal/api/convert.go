package api

import (
	"maps"
	"slices"
	"time"

	"solasola/internal/tasks"
)

// FromTask converts a task snapshot to its summary representation.
func FromTask(task *tasks.Task) TaskSummary {
	if task == nil {
		return TaskSummary{}
	}
	return TaskSummary{
		ID:          task.ID,
		Kind:        string(task.Kind),
		Status:      string(task.Status),
		Progress:    task.Progress,
		CurrentStep: task.CurrentStep,
		Error:       task.Error,
		ModelKey:    task.ModelKey,
		CreatedAt:   formatTime(task.CreatedAt),
		UpdatedAt:   formatTime(task.UpdatedAt),
	}
}

// FromTasks converts task snapshots, newest first.
func FromTasks(list []*tasks.Task) []TaskSummary {
	out := make([]TaskSummary, 0, len(list))
	for _, task := range list {
		out = append(out, FromTask(task))
	}
	slices.SortStableFunc(out, func(a, b TaskSummary) int {
		switch {
		case a.CreatedAt > b.CreatedAt:
			return -1
		case a.CreatedAt < b.CreatedAt:
			return 1
		}
		return 0
	})
	return out
}

// ViewFromTask converts a task snapshot to its full representation.
func ViewFromTask(task *tasks.Task) TaskView {
	if task == nil {
		return TaskView{}
	}
	view := TaskView{
		TaskSummary:     FromTask(task),
		CancelRequested: task.CancelRequested,
		Details:         task.Details,
		Layout:          slices.Clone(task.Layout),
		Logs:            slices.Clone(task.UILogs),
	}
	if task.Results != nil {
		view.Results = maps.Clone(task.Results)
	}
	return view
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
