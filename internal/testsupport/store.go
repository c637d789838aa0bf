package testsupport

import (
	"context"
	"testing"

	"github.com/yang-kun-long/YanheKt-AI/internal/config"
	"github.com/yang-kun-long/YanheKt-AI/internal/registry"
)

// MustOpenRegistry opens a registry.Store for tests and registers cleanup.
func MustOpenRegistry(t testing.TB, cfg *config.Config) *registry.Store {
	t.Helper()

	store, err := registry.Open(cfg)
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustUpsert applies patch and fails the test on error.
func MustUpsert(t testing.TB, store *registry.Store, objectID string, patch registry.Patch) *registry.Record {
	t.Helper()

	rec, err := store.Upsert(context.Background(), objectID, patch)
	if err != nil {
		t.Fatalf("store.Upsert(%s): %v", objectID, err)
	}
	return rec
}
