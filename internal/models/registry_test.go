package models_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solasola/internal/models"
	"solasola/internal/services"
	"solasola/internal/stageexec"
	"solasola/internal/tasks"
)

func argValue(args []string, flag string) string {
	if i := slices.Index(args, flag); i >= 0 && i+1 < len(args) {
		return args[i+1]
	}
	return ""
}

func writingRunner(files map[string]string) models.Runner {
	return func(_ context.Context, cmd stageexec.Command, _ stageexec.Options) error {
		target := argValue(cmd.Args, "--target")
		for name, content := range files {
			path := filepath.Join(target, name)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}
		}
		return nil
	}
}

func newRegistry(t *testing.T, runner models.Runner) (*models.Registry, *tasks.Registry, string) {
	t.Helper()
	root := t.TempDir()
	taskReg := tasks.NewRegistry(tasks.Options{})
	reg, err := models.NewRegistry(models.Options{
		Root:      root,
		Tasks:     taskReg,
		Runner:    runner,
		Installer: []string{"solasola-install-model"},
		Device:    "cpu",
	})
	require.NoError(t, err)
	return reg, taskReg, root
}

func installFixture(t *testing.T, reg *models.Registry, ref models.Ref, files map[string]string) {
	t.Helper()
	dir := reg.ModelDir(ref)
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	records, err := models.CollectFiles(dir)
	require.NoError(t, err)
	data := models.NewManifest(ref, records, time.Now())
	require.NoError(t, writeJSON(reg.ManifestPath(ref.ID()), data))
}

func TestRefIDs(t *testing.T) {
	genre, err := models.LookupRef("genre", "")
	require.NoError(t, err)
	assert.Equal(t, "hf_sanchit-gandhi--distilhubert-finetuned-gtzan", genre.ID())

	demucs, err := models.LookupRef("demucs", "htdemucs_ft")
	require.NoError(t, err)
	assert.Equal(t, "demucs_htdemucs_ft", demucs.ID())

	_, err = models.LookupRef("demucs", "nope")
	assert.True(t, errors.Is(err, services.ErrValidation))
}

func TestSanitizeID(t *testing.T) {
	id, err := models.SanitizeID("demucs_htdemucs.json")
	require.NoError(t, err)
	assert.Equal(t, "demucs_htdemucs", id)

	for _, bad := range []string{"", "../etc/passwd", "a/b", `a\b`, "..", "x y"} {
		_, err := models.SanitizeID(bad)
		assert.Error(t, err, bad)
	}
}

func TestSweepsRunInOrder(t *testing.T) {
	reg, _, root := newRegistry(t, nil)
	demucs, _ := models.LookupRef("demucs", "htdemucs")
	genre, _ := models.LookupRef("genre", "")
	installFixture(t, reg, demucs, map[string]string{"htdemucs.th": "weights", "config.yaml": "cfg"})
	installFixture(t, reg, genre, map[string]string{"snapshots/main/model.safetensors": "tensor"})

	orphan := filepath.Join(root, "hub", "stray.bin")
	require.NoError(t, os.WriteFile(orphan, []byte("x"), 0o644))
	lockFile := filepath.Join(root, "hub", "download.lock")
	require.NoError(t, os.WriteFile(lockFile, nil, 0o644))
	xetFile := filepath.Join(root, "xet", "chunk")
	require.NoError(t, os.MkdirAll(filepath.Dir(xetFile), 0o755))
	require.NoError(t, os.WriteFile(xetFile, []byte("scratch"), 0o644))

	corrupted := filepath.Join(reg.ModelDir(demucs), "htdemucs.th")
	require.NoError(t, os.WriteFile(corrupted, []byte("tampered"), 0o644))

	report := reg.Sweep()
	assert.Equal(t, []string{orphan}, report.Orphans)
	assert.Equal(t, []string{corrupted}, report.Corrupted)
	assert.Equal(t, []string{demucs.ID()}, report.Manifests)

	assert.FileExists(t, lockFile)
	assert.FileExists(t, xetFile)
	assert.FileExists(t, reg.ManifestPath(genre.ID()))
	assert.NoFileExists(t, reg.ManifestPath(demucs.ID()))

	// The remaining demucs file is now an orphan and goes on the next pass.
	second := reg.Sweep()
	assert.Equal(t, []string{filepath.Join(reg.ModelDir(demucs), "config.yaml")}, second.Orphans)
}

func TestSweepHonoursExtraExclusions(t *testing.T) {
	root := t.TempDir()
	keep := filepath.Join(root, "built_in")
	require.NoError(t, os.MkdirAll(keep, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(keep, "model.bin"), []byte("x"), 0o644))

	reg, err := models.NewRegistry(models.Options{Root: root, Excluded: []string{keep}})
	require.NoError(t, err)
	report := reg.Sweep()
	assert.Empty(t, report.Orphans)
	assert.FileExists(t, filepath.Join(keep, "model.bin"))
}

func TestDelete(t *testing.T) {
	reg, _, _ := newRegistry(t, nil)
	ref, _ := models.LookupRef("demucs", "htdemucs")
	installFixture(t, reg, ref, map[string]string{"a.th": "a", "b.th": "b"})
	require.NoError(t, os.Remove(filepath.Join(reg.ModelDir(ref), "b.th")))

	require.NoError(t, reg.Delete(ref.ID()))
	assert.NoFileExists(t, filepath.Join(reg.ModelDir(ref), "a.th"))
	assert.NoFileExists(t, reg.ManifestPath(ref.ID()))

	err := reg.Delete(ref.ID())
	assert.True(t, errors.Is(err, services.ErrNotFound))

	err = reg.Delete("../../etc/passwd")
	assert.True(t, errors.Is(err, services.ErrValidation))
}

func TestInstallSyncWritesManifest(t *testing.T) {
	reg, taskReg, _ := newRegistry(t, writingRunner(map[string]string{
		"snapshots/main/config.json":       "{}",
		"snapshots/main/model.safetensors": "weights",
	}))
	ref, _ := models.LookupRef("genre", "")

	taskID, err := reg.InstallSync(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, reg.Installed(ref))

	task, ok := taskReg.Get(taskID)
	require.True(t, ok)
	assert.Equal(t, tasks.StatusCompleted, task.Status)
	assert.Equal(t, tasks.KindInstall, task.Kind)
	assert.Equal(t, ref.Key, task.ModelKey)

	statuses, err := reg.Status(context.Background(), true)
	require.NoError(t, err)
	var found bool
	for _, st := range statuses {
		if st.ID == ref.ID() {
			found = true
			assert.True(t, st.Installed)
			assert.Equal(t, 2, st.FileCount)
			assert.False(t, st.Installing)
		}
	}
	assert.True(t, found)
}

func TestInstallFailureRemovesPartialFiles(t *testing.T) {
	var target string
	runner := func(_ context.Context, cmd stageexec.Command, _ stageexec.Options) error {
		target = argValue(cmd.Args, "--target")
		require.NoError(t, os.MkdirAll(target, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(target, "partial"), []byte("x"), 0o644))
		return &stageexec.StageError{Tool: "installer", ExitCode: 1, Message: "network unreachable"}
	}
	reg, taskReg, _ := newRegistry(t, runner)
	ref, _ := models.LookupRef("demucs", "mdx_extra_q")

	taskID, err := reg.InstallSync(context.Background(), ref)
	require.Error(t, err)
	assert.NoDirExists(t, target)

	task, _ := taskReg.Get(taskID)
	assert.Equal(t, tasks.StatusFailed, task.Status)
	assert.Equal(t, "network unreachable", task.Error)
	assert.False(t, reg.Installed(ref))
}

func TestInstallBusyWhenLockHeld(t *testing.T) {
	reg, _, root := newRegistry(t, writingRunner(map[string]string{"x.th": "x"}))
	other := flock.New(filepath.Join(root, models.InstallLockName))
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Unlock()

	ref, _ := models.LookupRef("demucs", "htdemucs")
	_, err = reg.Install(context.Background(), ref)
	assert.True(t, errors.Is(err, services.ErrBusy))
}

func TestInstallBusyWhileAnotherInstallRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	runner := func(ctx context.Context, cmd stageexec.Command, opts stageexec.Options) error {
		close(started)
		<-release
		return writingRunner(map[string]string{"m.th": "m"})(ctx, cmd, opts)
	}
	reg, taskReg, _ := newRegistry(t, runner)
	ref, _ := models.LookupRef("demucs", "htdemucs")

	taskID, err := reg.Install(context.Background(), ref)
	require.NoError(t, err)
	<-started

	_, err = reg.Install(context.Background(), ref)
	assert.True(t, errors.Is(err, services.ErrBusy))

	statuses, err := reg.Status(context.Background(), false)
	require.NoError(t, err)
	for _, st := range statuses {
		if st.Key == ref.Key {
			assert.True(t, st.Installing)
			assert.Equal(t, taskID, st.TaskID)
		}
	}
	assert.True(t, reg.Sweep().Skipped)

	close(release)
	require.Eventually(t, func() bool {
		task, _ := taskReg.Get(taskID)
		return task.Status == tasks.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStatusListsCatalogModelsAsNotInstalled(t *testing.T) {
	reg, _, _ := newRegistry(t, nil)
	statuses, err := reg.Status(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, statuses, len(models.Catalog))
	for _, st := range statuses {
		assert.False(t, st.Installed)
		assert.NotEmpty(t, st.Size)
	}
}

func TestStatusRebuildsOnEveryCall(t *testing.T) {
	reg, _, _ := newRegistry(t, nil)
	demucs, _ := models.LookupRef("demucs", "htdemucs")
	installFixture(t, reg, demucs, map[string]string{"htdemucs.th": "weights", "config.yaml": "cfg"})

	installed := func() bool {
		statuses, err := reg.Status(context.Background(), false)
		require.NoError(t, err)
		for _, st := range statuses {
			if st.ID == demucs.ID() {
				return st.Installed
			}
		}
		t.Fatalf("%s missing from status listing", demucs.ID())
		return false
	}
	require.True(t, installed())

	weights := filepath.Join(reg.ModelDir(demucs), "htdemucs.th")
	require.NoError(t, os.WriteFile(weights, []byte("tampered"), 0o644))

	assert.False(t, installed(), "a corrupted model is reported without forcing a refresh")
	assert.NoFileExists(t, reg.ManifestPath(demucs.ID()))
	assert.NoFileExists(t, weights)
}

func TestStatusPicksUpManifestWrittenElsewhere(t *testing.T) {
	reg, _, _ := newRegistry(t, nil)
	genre, _ := models.LookupRef("genre", "")
	_, err := reg.Status(context.Background(), false)
	require.NoError(t, err)

	installFixture(t, reg, genre, map[string]string{"snapshots/main/model.safetensors": "tensor"})

	statuses, err := reg.Status(context.Background(), false)
	require.NoError(t, err)
	idx := slices.IndexFunc(statuses, func(st models.Status) bool { return st.ID == genre.ID() })
	require.GreaterOrEqual(t, idx, 0)
	assert.True(t, statuses[idx].Installed)
	assert.Equal(t, 1, statuses[idx].FileCount)
}
