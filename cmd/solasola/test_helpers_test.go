package main

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"solasola/internal/config"
	"solasola/internal/daemon"
	"solasola/internal/deps"
	"solasola/internal/events"
	"solasola/internal/models"
	"solasola/internal/tasks"
	"solasola/internal/testsupport"
	"solasola/internal/workflow"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	tasks      *tasks.Registry
	events     *events.Broadcaster
	manager    *workflow.Manager
	server     *httptest.Server
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	t.Setenv("SOLASOLA_API_TOKEN", "")

	cfg := testsupport.NewConfig(t, opts...)
	broadcaster := events.NewBroadcaster(nil)
	registry := tasks.NewRegistry(tasks.Options{Publisher: broadcaster})
	modelRegistry, err := models.NewRegistry(models.Options{
		Root:      cfg.Paths.ModelsDir,
		Tasks:     registry,
		Publisher: broadcaster,
	})
	if err != nil {
		t.Fatalf("models.NewRegistry: %v", err)
	}
	manager := workflow.NewManager(workflow.Options{
		Tasks:      registry,
		Index:      testsupport.MustOpenIndex(t, cfg),
		Models:     modelRegistry,
		OutputRoot: cfg.Paths.OutputDir,
		Durations:  workflow.DurationPolicy{Tolerance: cfg.DurationTolerance(), LyricsDefault: cfg.DefaultLyricsDuration()},
		Version:    "test",
	})
	d, err := daemon.New(daemon.Options{
		Config:   cfg,
		Tasks:    registry,
		Events:   broadcaster,
		Workflow: manager,
		Models:   modelRegistry,
		Version:  "test",
		Dependencies: func() []deps.Status {
			return []deps.Status{
				{Name: "FFprobe", Command: "ffprobe", Available: true},
				{Name: "Genre classifier", Command: "solasola-genre", Optional: true, Detail: "command not found"},
			}
		},
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	server := httptest.NewServer(d.Handler())
	t.Cleanup(func() {
		server.Close()
		d.Stop()
		manager.Wait()
	})
	cfg.Paths.APIBind = server.Listener.Addr().String()

	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		configPath: configPath,
		tasks:      registry,
		events:     broadcaster,
		manager:    manager,
		server:     server,
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
