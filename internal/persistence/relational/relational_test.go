package relational

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/example/presence-service/internal/persistence"
)

// openFromEnv connects to the server named by the environment, or skips.
func openFromEnv(t *testing.T, driver, envKey string) *UserRepository {
	t.Helper()

	dsn := os.Getenv(envKey)
	if dsn == "" {
		t.Skipf("%s not set; skipping %s integration test", envKey, driver)
	}
	db, err := Open(context.Background(), driver, dsn, DefaultPoolConfig())
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", driver, err)
	}
	t.Cleanup(func() { _ = Close(db) })
	return NewUserRepository(db)
}

func TestDialectorFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		driver  string
		dsn     string
		want    string
		wantErr bool
	}{
		{driver: "mysql", dsn: "user:pass@tcp(localhost:3306)/presence", want: "mysql"},
		{driver: "postgres", dsn: "postgres://localhost/presence", want: "postgres"},
		{driver: "PostgreSQL", dsn: "postgres://localhost/presence", want: "postgres"},
		{driver: "mysql", dsn: "  ", wantErr: true},
		{driver: "oracle", dsn: "x", wantErr: true},
	}

	for _, tc := range cases {
		dialector, err := dialectorFor(tc.driver, tc.dsn)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("dialectorFor(%q, %q) expected error", tc.driver, tc.dsn)
			}
			continue
		}
		if err != nil {
			t.Fatalf("dialectorFor(%q) failed: %v", tc.driver, err)
		}
		if dialector.Name() != tc.want {
			t.Fatalf("dialectorFor(%q) = %s, want %s", tc.driver, dialector.Name(), tc.want)
		}
	}
}

func TestUserModelRoundTrip(t *testing.T) {
	t.Parallel()

	seen := time.Date(2024, time.January, 2, 15, 4, 5, 0, time.FixedZone("JST", 9*60*60))
	model := userModelFrom(persistence.User{
		ID:         "u1",
		Email:      " Bob@Example.com",
		IsOnline:   true,
		LastSeenAt: &seen,
	})
	if model.Email != "bob@example.com" {
		t.Fatalf("expected normalised email, got %q", model.Email)
	}
	if model.LastSeenAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamps, got %v", model.LastSeenAt.Location())
	}
	user := model.toPersistence()
	if !user.LastSeenAt.Equal(seen) || user.LastLoginAt != nil || !user.IsOnline {
		t.Fatalf("unexpected user: %#v", user)
	}
}

func TestRelationalStores(t *testing.T) {
	t.Parallel()

	backends := []struct {
		driver string
		envKey string
	}{
		{driver: DriverMySQL, envKey: "PRESENCE_TEST_MYSQL_DSN"},
		{driver: DriverPostgres, envKey: "PRESENCE_TEST_POSTGRES_DSN"},
	}

	for _, backend := range backends {
		backend := backend
		t.Run(backend.driver, func(t *testing.T) {
			t.Parallel()

			repo := openFromEnv(t, backend.driver, backend.envKey)
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)
			stale := now.Add(-time.Hour)
			prefix := uuid.NewString()[:8]

			staleID := prefix + "-stale"
			freshID := prefix + "-fresh"
			for _, user := range []persistence.User{
				{ID: staleID, IsOnline: true, LastSeenAt: &stale, LastLoginAt: &stale},
				{ID: freshID, IsOnline: true, LastSeenAt: &now, LastLoginAt: &now},
			} {
				if err := repo.CreateUser(ctx, user); err != nil {
					t.Fatalf("CreateUser failed: %v", err)
				}
				id := user.ID
				t.Cleanup(func() { _ = repo.DeleteUser(context.Background(), id) })
			}

			if _, err := repo.MarkStaleOffline(ctx, now.Add(-time.Minute)); err != nil {
				t.Fatalf("MarkStaleOffline failed: %v", err)
			}
			staleUser, err := repo.GetUser(ctx, staleID)
			if err != nil {
				t.Fatalf("GetUser failed: %v", err)
			}
			if staleUser.IsOnline {
				t.Fatalf("expected stale user to be demoted")
			}
			freshUser, err := repo.GetUser(ctx, freshID)
			if err != nil {
				t.Fatalf("GetUser failed: %v", err)
			}
			if !freshUser.IsOnline {
				t.Fatalf("expected fresh user to stay online")
			}

			if _, err := repo.GetUser(ctx, prefix+"-missing"); !errors.Is(err, persistence.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			first, err := NewAdvisoryLocker(repo.db)
			if err != nil {
				t.Fatalf("NewAdvisoryLocker failed: %v", err)
			}
			second, err := NewAdvisoryLocker(repo.db)
			if err != nil {
				t.Fatalf("NewAdvisoryLocker failed: %v", err)
			}
			lockName := prefix + ":sweep"
			if ok, err := first.TryAcquire(ctx, lockName); err != nil || !ok {
				t.Fatalf("expected first acquire to succeed, got %v, %v", ok, err)
			}
			if ok, err := second.TryAcquire(ctx, lockName); err != nil || ok {
				t.Fatalf("expected second acquire to be refused, got %v, %v", ok, err)
			}
			if err := first.Release(ctx, lockName); err != nil {
				t.Fatalf("Release failed: %v", err)
			}
			if ok, err := second.TryAcquire(ctx, lockName); err != nil || !ok {
				t.Fatalf("expected acquire after release, got %v, %v", ok, err)
			}
			if err := second.Release(ctx, lockName); err != nil {
				t.Fatalf("Release failed: %v", err)
			}
		})
	}
}
