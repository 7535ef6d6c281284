package cacheindex_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solasola/internal/cacheindex"
)

func openStore(t *testing.T) *cacheindex.Store {
	t.Helper()
	store, err := cacheindex.Open(filepath.Join(t.TempDir(), cacheindex.FileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndListNewestFirst(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, cacheindex.Entry{Name: "old_0_fp", Fingerprint: "fp", TaskID: "t1", CreatedAt: base}))
	require.NoError(t, store.Record(ctx, cacheindex.Entry{Name: "new_0_fp", Fingerprint: "fp", TaskID: "t2", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, store.Record(ctx, cacheindex.Entry{Name: "other", Fingerprint: "zz", CreatedAt: base}))

	entries, err := store.ListByFingerprint(ctx, "fp")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "new_0_fp", entries[0].Name)
	assert.Equal(t, "t2", entries[0].TaskID)
	assert.True(t, entries[0].CreatedAt.Equal(base.Add(time.Hour)))
}

func TestCreatedAtAndForget(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, store.Record(ctx, cacheindex.Entry{Name: "a", Fingerprint: "fp", CreatedAt: stamp}))
	got, err := store.CreatedAt(ctx, []string{"a", "missing"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.True(t, got["a"].Equal(stamp))

	require.NoError(t, store.Forget(ctx, "a"))
	got, err = store.CreatedAt(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecordUpsertsAndValidates(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	assert.Error(t, store.Record(ctx, cacheindex.Entry{Name: "", Fingerprint: "fp"}))

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(ctx, cacheindex.Entry{Name: "dir", Fingerprint: "fp", CreatedAt: first}))
	require.NoError(t, store.Record(ctx, cacheindex.Entry{Name: "dir", Fingerprint: "fp", CreatedAt: first.Add(time.Minute)}))

	entries, err := store.ListByFingerprint(ctx, "fp")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].CreatedAt.Equal(first.Add(time.Minute)))
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), cacheindex.FileName)
	store, err := cacheindex.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Record(context.Background(), cacheindex.Entry{Name: "dir", Fingerprint: "fp"}))
	require.NoError(t, store.Close())

	reopened, err := cacheindex.Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	entries, err := reopened.ListByFingerprint(context.Background(), "fp")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
