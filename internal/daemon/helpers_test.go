package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"solasola/internal/config"
	"solasola/internal/daemon"
	"solasola/internal/deps"
	"solasola/internal/events"
	"solasola/internal/models"
	"solasola/internal/tasks"
	"solasola/internal/workflow"
)

type fakeModels struct {
	mu         sync.Mutex
	installErr error
	deleteErr  error
	installed  []models.Ref
	deleted    []string
	refreshed  []bool
	sweeps     atomic.Int32
}

func (f *fakeModels) Install(_ context.Context, ref models.Ref) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.installErr != nil {
		return "", f.installErr
	}
	f.installed = append(f.installed, ref)
	return "install-1", nil
}

func (f *fakeModels) Status(_ context.Context, force bool) ([]models.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, force)
	return []models.Status{{ID: "demucs_htdemucs", Key: "htdemucs", ModelType: models.TypeDemucs, Installed: true}}, nil
}

func (f *fakeModels) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeModels) Sweep() models.SweepReport {
	f.sweeps.Add(1)
	return models.SweepReport{Orphans: []string{"/models/stray"}}
}

func (*fakeModels) Installed(models.Ref) bool { return true }

type fixture struct {
	cfg     *config.Config
	daemon  *daemon.Daemon
	tasks   *tasks.Registry
	events  *events.Broadcaster
	manager *workflow.Manager
	models  *fakeModels
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	broadcaster := events.NewBroadcaster(nil)
	registry := tasks.NewRegistry(tasks.Options{Publisher: broadcaster})
	fm := &fakeModels{}
	manager := workflow.NewManager(workflow.Options{
		Tasks:      registry,
		Models:     fm,
		OutputRoot: cfg.Paths.OutputDir,
		Durations:  workflow.DurationPolicy{Tolerance: cfg.DurationTolerance(), LyricsDefault: cfg.DefaultLyricsDuration()},
		Version:    "test",
	})
	d, err := daemon.New(daemon.Options{
		Config:   cfg,
		Tasks:    registry,
		Events:   broadcaster,
		Workflow: manager,
		Models:   fm,
		Version:  "test",
		Dependencies: func() []deps.Status {
			return []deps.Status{{Name: "FFprobe", Command: "ffprobe", Available: true}}
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		d.Stop()
		manager.Wait()
	})
	return &fixture{cfg: cfg, daemon: d, tasks: registry, events: broadcaster, manager: manager, models: fm}
}

func (f *fixture) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.daemon.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
