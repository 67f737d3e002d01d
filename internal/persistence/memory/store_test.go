package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/presence-service/internal/persistence"
)

func TestStore_UserLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	login := time.Date(2024, time.January, 2, 15, 0, 0, 0, time.UTC)

	if err := store.CreateUser(ctx, persistence.User{ID: "u1", Name: "Alice", LastLoginAt: &login}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := store.CreateUser(ctx, persistence.User{ID: "u1"}); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	fetched, err := store.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	*fetched.LastLoginAt = login.Add(time.Hour)

	again, _ := store.GetUser(ctx, "u1")
	if !again.LastLoginAt.Equal(login) {
		t.Fatalf("stored timestamp was mutated through a returned copy")
	}

	fetched.IsOnline = true
	if err := store.UpdateUser(ctx, fetched); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	if err := store.UpdateUser(ctx, persistence.User{ID: "missing"}); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.DeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	if _, err := store.GetUser(ctx, "u1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStore_ListUsersActiveSince(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	cutoff := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
	recent := cutoff.Add(time.Hour)
	old := cutoff.Add(-time.Hour)

	seed := []persistence.User{
		{ID: "recent", LastLoginAt: &recent},
		{ID: "boundary", LastLoginAt: &cutoff},
		{ID: "old", LastLoginAt: &old},
		{ID: "old-online", LastLoginAt: &old, IsOnline: true},
		{ID: "never"},
	}
	for _, user := range seed {
		if err := store.CreateUser(ctx, user); err != nil {
			t.Fatalf("CreateUser(%s) failed: %v", user.ID, err)
		}
	}

	users, err := store.ListUsersActiveSince(ctx, cutoff)
	if err != nil {
		t.Fatalf("ListUsersActiveSince failed: %v", err)
	}
	var ids []string
	for _, user := range users {
		ids = append(ids, user.ID)
	}
	want := []string{"boundary", "old-online", "recent"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}
