package main

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"solasola/internal/api"
	"solasola/internal/services"
	"solasola/internal/testsupport"
)

func submitLyrics(t *testing.T, env *cliTestEnv, name string) string {
	t.Helper()
	path := testsupport.WriteText(t, filepath.Join(env.cfg.Paths.UploadDir, name), "first line\n\nsecond line\n")
	out, _, err := runCLI(t, env.configPath, "--json", "submit", "--mode", "lyrics_only", path)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var resp api.SubmitResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode submit output %q: %v", out, err)
	}
	if resp.TaskID == "" {
		t.Fatalf("submit returned no task id: %s", out)
	}
	return resp.TaskID
}

func TestSubmitFollowReportsCompletion(t *testing.T) {
	env := setupCLITestEnv(t)
	path := testsupport.WriteText(t, filepath.Join(env.cfg.Paths.UploadDir, "Hymn.txt"), "first\n\nsecond\n")

	out, _, err := runCLI(t, env.configPath, "submit", "--mode", "lyrics_only", "--follow", path)
	if err != nil {
		t.Fatalf("submit --follow: %v", err)
	}
	requireContains(t, out, "Submitted task ")
	requireContains(t, out, "[OK] completed")
	requireContains(t, out, "Hymn")
}

func TestTasksAndStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env.configPath, "tasks")
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	requireContains(t, out, "No tasks")

	id := submitLyrics(t, env, "Psalm.txt")
	env.manager.Wait()

	out, _, err = runCLI(t, env.configPath, "tasks")
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	requireContains(t, out, id)
	requireContains(t, out, "completed")
	requireContains(t, out, "100%")

	out, _, err = runCLI(t, env.configPath, "--json", "status", id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var view api.TaskView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode status output: %v", err)
	}
	if view.Status != "completed" || view.ID != id {
		t.Fatalf("unexpected task view: %+v", view.TaskSummary)
	}

	out, _, err = runCLI(t, env.configPath, "status", id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Task "+id)
	requireContains(t, out, "Recent activity")
}

func TestStatusAndCancelUnknownTask(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, env.configPath, "status", "missing")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, _, err = runCLI(t, env.configPath, "cancel", "missing")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSubmitRejectsMissingFile(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, env.configPath, "submit", "nowhere.mp3")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := env.tasks.List(); len(got) != 0 {
		t.Fatalf("expected no tasks, got %d", len(got))
	}
}

func TestCommandsExplainUnavailableDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, env.configPath, "--api", "127.0.0.1:1", "tasks")
	if err == nil {
		t.Fatalf("expected connection error")
	}
	requireContains(t, err.Error(), "solasola start")
}
