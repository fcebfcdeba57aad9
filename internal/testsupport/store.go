package testsupport

import (
	"context"
	"testing"

	"photopipe/internal/config"
	"photopipe/internal/taskstore"
)

// MustOpenStore opens the SQLite task store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *taskstore.Adapter {
	t.Helper()

	backend, err := taskstore.OpenSQLite(context.Background(), cfg.DatabasePath(), nil)
	if err != nil {
		t.Fatalf("open task store: %v", err)
	}
	store := taskstore.NewAdapter(backend, nil)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
