package main

import (
	"strings"
	"testing"

	"solasola/internal/testsupport"
)

func TestLogsFiltersByTask(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteText(t, env.cfg.LogFilePath(),
		"INFO task started task_id=abc\nINFO task started task_id=xyz\nINFO task completed task_id=abc\n")

	out, _, err := runCLI(t, env.configPath, "logs", "--task", "task_id=abc")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	got := strings.Split(strings.TrimSpace(out), "\n")
	if len(got) != 2 || !strings.Contains(got[1], "completed") {
		t.Fatalf("unexpected lines: %q", got)
	}

	out, _, err = runCLI(t, env.configPath, "logs", "-n", "1")
	if err != nil {
		t.Fatalf("logs -n 1: %v", err)
	}
	requireContains(t, out, "task completed task_id=abc")
	if strings.Contains(out, "xyz") {
		t.Fatalf("expected only the last line, got %q", out)
	}
}
