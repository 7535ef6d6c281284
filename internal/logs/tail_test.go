package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solasola/internal/logs"
)

func writeLog(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func appendLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestLastReturnsTrailingLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solasola.log")
	writeLog(t, path, "a\nb\nc\n")

	lines, offset, err := logs.Last(path, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, lines)
	assert.Equal(t, int64(6), offset)

	lines, _, err = logs.Last(path, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, lines)
}

func TestLastAppliesFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solasola.log")
	writeLog(t, path, "task_id=one start\ntask_id=two start\ntask_id=one done\n")

	lines, _, err := logs.Last(path, 5, logs.Containing("task_id=one"))
	require.NoError(t, err)
	assert.Equal(t, []string{"task_id=one start", "task_id=one done"}, lines)
	assert.Nil(t, logs.Containing(" ", ""))
}

func TestMissingFileIsEmpty(t *testing.T) {
	lines, offset, err := logs.Last(filepath.Join(t.TempDir(), "absent.log"), 5, nil)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.Zero(t, offset)
}

func TestReadFromHoldsPartialLinesAndHandlesRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solasola.log")
	writeLog(t, path, "first\nsec")

	lines, offset, err := logs.ReadFrom(path, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, lines)
	assert.Equal(t, int64(6), offset)

	appendLog(t, path, "ond\n")
	lines, offset, err = logs.ReadFrom(path, offset, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, lines)

	writeLog(t, path, "new\n")
	lines, _, err = logs.ReadFrom(path, offset, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, lines, "a shorter file restarts from the top")
}

func TestFollowDeliversAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solasola.log")
	writeLog(t, path, "old\n")
	_, offset, err := logs.Last(path, 0, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var mu sync.Mutex
	var got []string
	done := make(chan error, 1)
	go func() {
		done <- logs.Follow(ctx, path, offset, 10*time.Millisecond, nil, func(line string) error {
			mu.Lock()
			got = append(got, line)
			mu.Unlock()
			return nil
		})
	}()

	appendLog(t, path, "later\n")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return strings.Join(got, ",") == "later"
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("follow did not stop after cancel")
	}
}
