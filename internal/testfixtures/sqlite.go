package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/presence-service/internal/persistence/sqlite"
)

// SQLiteHarness provides a migrated, file-backed Store for integration-style
// tests.
type SQLiteHarness struct {
	Store *sqlite.Store
	Path  string

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// OpenPeer opens a second Store on the same database file with its own lock
// owner, emulating another server process.
func (h *SQLiteHarness) OpenPeer(tb testing.TB, owner string) *sqlite.Store {
	tb.Helper()
	store, err := sqlite.Open(context.Background(), sqlite.DefaultConfig(h.Path), sqlite.Options{LockOwner: owner, LockTTL: time.Minute})
	if err != nil {
		tb.Fatalf("failed to open peer storage: %v", err)
	}
	tb.Cleanup(func() { _ = store.Close() })
	return store
}

// Seed inserts the fixtures through the store.
func (h *SQLiteHarness) Seed(tb testing.TB, fixtures ...UserFixture) {
	tb.Helper()
	for _, f := range fixtures {
		if err := h.Store.Users.CreateUser(context.Background(), f.Persistence()); err != nil {
			tb.Fatalf("failed to seed user %s: %v", f.ID, err)
		}
	}
}

// NewSQLiteHarness constructs a SQLiteHarness using a temporary file that is
// migrated automatically. Callers may optionally invoke Close, but the helper
// will also register a cleanup callback with the provided testing.TB.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "presence.db")
	ctx := context.Background()

	storage, err := sqlite.Open(ctx, sqlite.DefaultConfig(path), sqlite.Options{LockOwner: "harness", LockTTL: time.Minute})
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	if err := storage.Migrate(ctx, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &SQLiteHarness{
		Store: storage,
		Path:  path,
		cleanup: func() {
			_ = storage.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}
