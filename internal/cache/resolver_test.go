package cache_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solasola/internal/cache"
	"solasola/internal/fingerprint"
	"solasola/internal/tasks"
)

const testFP = "abcdef012345_0011aabb"

type recordedLog struct {
	message  string
	audience tasks.Audience
}

type fakeNotifier struct {
	mu   sync.Mutex
	logs []recordedLog
}

func (n *fakeNotifier) LogToUI(_, message, _ string, _ tasks.Severity, audience tasks.Audience) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logs = append(n.logs, recordedLog{message: message, audience: audience})
}

type fakeIndex struct {
	times map[string]time.Time
	err   error
}

func (f fakeIndex) CreatedAt(context.Context, []string) (map[string]time.Time, error) {
	return f.times, f.err
}

func writeAsset(t *testing.T, resultDir string, asset fingerprint.AssetType, files map[string]string) {
	t.Helper()
	dir := filepath.Join(resultDir, string(asset))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	written, err := fingerprint.WriteManifest(dir, asset)
	require.NoError(t, err)
	require.True(t, written)
}

func makeResultDir(t *testing.T, root, name string, created time.Time) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, cache.WriteResultMarker(dir, cache.ResultMarker{Fingerprint: testFP, CreatedAt: created}))
	return dir
}

func TestCandidatesOrderedByMarkerRecency(t *testing.T) {
	root := t.TempDir()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	// Names sort opposite to creation time so only explicit recency can win.
	makeResultDir(t, root, "20990101_000000_0_"+testFP, base)
	makeResultDir(t, root, "20000101_000000_0_"+testFP, base.Add(time.Hour))
	makeResultDir(t, root, "unrelated", base.Add(2*time.Hour))
	own := makeResultDir(t, root, "own_"+testFP, base.Add(3*time.Hour))

	r := cache.NewResolver(context.Background(), cache.Options{
		BaseOutputRoot: root,
		Fingerprint:    testFP,
		ResultDir:      own,
	})
	got := r.Candidates()
	require.Len(t, got, 2)
	assert.Equal(t, "20000101_000000_0_"+testFP, got[0].Name)
	assert.Equal(t, "20990101_000000_0_"+testFP, got[1].Name)
}

func TestCandidatesPreferIndexAndBreakTiesByName(t *testing.T) {
	root := t.TempDir()
	stamp := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	makeResultDir(t, root, "a_"+testFP, stamp.Add(time.Hour))
	makeResultDir(t, root, "b_"+testFP, stamp)
	makeResultDir(t, root, "c_"+testFP, stamp)

	index := fakeIndex{times: map[string]time.Time{
		"a_" + testFP: stamp,
		"b_" + testFP: stamp,
		"c_" + testFP: stamp,
	}}
	r := cache.NewResolver(context.Background(), cache.Options{
		BaseOutputRoot: root,
		Fingerprint:    testFP,
		ResultDir:      filepath.Join(root, "new_"+testFP),
		Index:          index,
	})
	names := []string{}
	for _, c := range r.Candidates() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"c_" + testFP, "b_" + testFP, "a_" + testFP}, names)
}

func TestCandidatesFallBackWhenIndexFails(t *testing.T) {
	root := t.TempDir()
	stamp := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	makeResultDir(t, root, "old_"+testFP, stamp)
	makeResultDir(t, root, "new_"+testFP, stamp.Add(time.Minute))

	r := cache.NewResolver(context.Background(), cache.Options{
		BaseOutputRoot: root,
		Fingerprint:    testFP,
		Index:          fakeIndex{err: errors.New("locked")},
	})
	got := r.Candidates()
	require.Len(t, got, 2)
	assert.Equal(t, "new_"+testFP, got[0].Name)
}

func TestResolveCopiesNewestValidCandidate(t *testing.T) {
	root := t.TempDir()
	stamp := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	older := makeResultDir(t, root, "older_"+testFP, stamp)
	writeAsset(t, older, fingerprint.AssetStems, map[string]string{"vocals.wav": "old"})

	newer := makeResultDir(t, root, "newer_"+testFP, stamp.Add(time.Hour))
	writeAsset(t, newer, fingerprint.AssetStems, map[string]string{"vocals.wav": "new", "bass.wav": "bb"})

	broken := makeResultDir(t, root, "broken_"+testFP, stamp.Add(2*time.Hour))
	writeAsset(t, broken, fingerprint.AssetStems, map[string]string{"drums.wav": "dd"})
	require.NoError(t, os.WriteFile(filepath.Join(broken, "stems", "drums.wav"), []byte("truncated?"), 0o644))

	resultDir := filepath.Join(root, "current_"+testFP)
	notifier := &fakeNotifier{}
	r := cache.NewResolver(context.Background(), cache.Options{
		TaskID:         "task-1",
		BaseOutputRoot: root,
		Fingerprint:    testFP,
		ResultDir:      resultDir,
		Notifier:       notifier,
	})

	res, err := r.Resolve(context.Background(), fingerprint.AssetStems)
	require.NoError(t, err)
	assert.Equal(t, cache.ActionUseExisting, res.Action)
	assert.Equal(t, filepath.Join(resultDir, "stems"), res.Path)

	data, err := os.ReadFile(filepath.Join(res.Path, "vocals.wav"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	assert.True(t, fingerprint.ValidateManifest(res.Path, fingerprint.AssetStems))

	prov := r.Provenance()["stems"]
	assert.Equal(t, cache.ProvenanceCopied, prov.Status)
	require.NotNil(t, prov.Source)
	assert.Equal(t, newer, *prov.Source)

	require.Len(t, notifier.logs, 2)
	assert.Equal(t, tasks.AudienceToast, notifier.logs[0].audience)
	assert.Equal(t, "Found previously analyzed files. Re-using.", notifier.logs[0].message)
	assert.Equal(t, tasks.AudienceLog, notifier.logs[1].audience)
	assert.Contains(t, notifier.logs[1].message, "newer_"+testFP)
}

func TestResolveAnnouncesHitOnlyAfterCopy(t *testing.T) {
	root := t.TempDir()
	prior := makeResultDir(t, root, "prior_"+testFP, time.Now().Add(-time.Hour))
	writeAsset(t, prior, fingerprint.AssetStems, map[string]string{"vocals.wav": "vv"})

	// A regular file where the result directory should be makes every copy fail.
	resultDir := filepath.Join(root, "current_"+testFP)
	require.NoError(t, os.WriteFile(resultDir, []byte("in the way"), 0o644))

	notifier := &fakeNotifier{}
	r := cache.NewResolver(context.Background(), cache.Options{
		BaseOutputRoot: root,
		Fingerprint:    testFP,
		ResultDir:      resultDir,
		Notifier:       notifier,
	})
	_, err := r.Resolve(context.Background(), fingerprint.AssetStems)
	require.Error(t, err)

	for _, entry := range notifier.logs {
		assert.NotContains(t, entry.message, "Re-using", "no reuse is announced when the copy failed")
	}
	_, recorded := r.Provenance()["stems"]
	assert.False(t, recorded)
}

func TestResolveMissCreatesEmptyDirectory(t *testing.T) {
	root := t.TempDir()
	resultDir := filepath.Join(root, "current_"+testFP)
	notifier := &fakeNotifier{}
	r := cache.NewResolver(context.Background(), cache.Options{
		BaseOutputRoot:   root,
		Fingerprint:      testFP,
		ResultDir:        resultDir,
		Notifier:         notifier,
		PreSuppliedStems: true,
	})

	res, err := r.Resolve(context.Background(), fingerprint.AssetStems)
	require.NoError(t, err)
	assert.Equal(t, cache.ActionCreateNew, res.Action)
	info, err := os.Stat(res.Path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	prov := r.Provenance()["stems"]
	assert.Equal(t, cache.ProvenanceCreated, prov.Status)
	assert.Nil(t, prov.Source)

	require.Len(t, notifier.logs, 2)
	assert.Equal(t, "Processing provided stems...", notifier.logs[0].message)
}

func TestResolveIsMemoized(t *testing.T) {
	root := t.TempDir()
	prior := makeResultDir(t, root, "prior_"+testFP, time.Now().Add(-time.Hour))
	writeAsset(t, prior, fingerprint.AssetMIDI, map[string]string{"bass.mid": "MThd"})
	resultDir := filepath.Join(root, "current_"+testFP)

	notifier := &fakeNotifier{}
	r := cache.NewResolver(context.Background(), cache.Options{
		BaseOutputRoot: root,
		Fingerprint:    testFP,
		ResultDir:      resultDir,
		Notifier:       notifier,
	})
	first, err := r.Resolve(context.Background(), fingerprint.AssetMIDI)
	require.NoError(t, err)

	// Invalidate the source; the second call must not look at it again.
	require.NoError(t, os.RemoveAll(filepath.Join(prior, "midi")))
	second, err := r.Resolve(context.Background(), fingerprint.AssetMIDI)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, notifier.logs, 2)
}

func TestWriteManifestForStep(t *testing.T) {
	root := t.TempDir()
	resultDir := filepath.Join(root, "current_"+testFP)
	r := cache.NewResolver(context.Background(), cache.Options{
		BaseOutputRoot: root,
		Fingerprint:    testFP,
		ResultDir:      resultDir,
	})
	res, err := r.Resolve(context.Background(), fingerprint.AssetChords)
	require.NoError(t, err)

	written, err := r.WriteManifestForStep(fingerprint.AssetChords)
	require.NoError(t, err)
	assert.False(t, written)

	require.NoError(t, os.WriteFile(filepath.Join(res.Path, "chord_grid.txt"), []byte("| C |"), 0o644))
	written, err = r.WriteManifestForStep(fingerprint.AssetChords)
	require.NoError(t, err)
	assert.True(t, written)
	assert.True(t, fingerprint.ValidateManifest(res.Path, fingerprint.AssetChords))
}

func TestResultMarkerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	stamp := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	require.NoError(t, cache.WriteResultMarker(dir, cache.ResultMarker{Fingerprint: testFP, TaskID: "t", CreatedAt: stamp}))
	marker, err := cache.ReadResultMarker(dir)
	require.NoError(t, err)
	assert.True(t, marker.CreatedAt.Equal(stamp))
	assert.Equal(t, testFP, marker.Fingerprint)

	_, err = cache.ReadResultMarker(t.TempDir())
	assert.Error(t, err)
}
