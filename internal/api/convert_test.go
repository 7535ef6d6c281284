package api_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solasola/internal/api"
	"solasola/internal/tasks"
)

func TestFromTaskFormatsTimestamps(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))
	task := &tasks.Task{
		ID:          "abc",
		Kind:        tasks.KindProcessing,
		Status:      tasks.StatusRunning,
		Progress:    42.5,
		CurrentStep: "Separating instruments (42%)",
		CreatedAt:   created,
	}

	summary := api.FromTask(task)
	assert.Equal(t, "abc", summary.ID)
	assert.Equal(t, "processing", summary.Kind)
	assert.Equal(t, "running", summary.Status)
	assert.Equal(t, 42.5, summary.Progress)
	assert.Equal(t, "2026-03-01T11:30:00.000Z", summary.CreatedAt)
	assert.Empty(t, summary.UpdatedAt, "zero time is omitted")
	assert.Equal(t, api.TaskSummary{}, api.FromTask(nil))
}

func TestFromTasksOrdersNewestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	list := []*tasks.Task{
		{ID: "old", CreatedAt: base},
		{ID: "new", CreatedAt: base.Add(time.Hour)},
		{ID: "mid", CreatedAt: base.Add(time.Minute)},
	}
	summaries := api.FromTasks(list)
	require.Len(t, summaries, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{summaries[0].ID, summaries[1].ID, summaries[2].ID})
}

func TestViewFromTaskCopiesCollections(t *testing.T) {
	task := &tasks.Task{
		ID:              "abc",
		Status:          tasks.StatusCompleted,
		CancelRequested: true,
		Layout:          tasks.Layout{{Label: "Finalize", Weight: 1}},
		UILogs:          []tasks.LogEntry{{Message: "done", Severity: tasks.SeveritySuccess}},
		Results:         map[string]any{"Song": "ok"},
	}
	view := api.ViewFromTask(task)
	assert.True(t, view.CancelRequested)
	require.Len(t, view.Logs, 1)
	assert.Equal(t, "done", view.Logs[0].Message)

	view.Results["Song"] = "changed"
	view.Layout[0].Label = "changed"
	assert.Equal(t, "ok", task.Results["Song"])
	assert.Equal(t, "Finalize", task.Layout[0].Label)
}
