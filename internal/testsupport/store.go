package testsupport

import (
	"testing"

	"solasola/internal/cacheindex"
	"solasola/internal/config"
)

// MustOpenIndex opens the result index for tests and registers cleanup.
func MustOpenIndex(t testing.TB, cfg *config.Config) *cacheindex.Store {
	t.Helper()

	store, err := cacheindex.Open(cfg.CacheIndexPath())
	if err != nil {
		t.Fatalf("cacheindex.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
