package persistence

import (
	"context"
	"time"
)

// UserRepository exposes the directory and presence columns of users.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) error
	UpdateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	// ListUsersActiveSince returns users whose last login is at or after
	// since, together with every user currently flagged online.
	ListUsersActiveSince(ctx context.Context, since time.Time) ([]User, error)
	DeleteUser(ctx context.Context, id string) error
}

// StaleDemoter is implemented by stores that can demote stale users with a
// single shared-record update.
type StaleDemoter interface {
	// MarkStaleOffline flips online users whose last seen time is strictly
	// before cutoff to offline and returns the affected row count. Rows with
	// no last seen time are left alone.
	MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error)
}

// LockRepository provides cross-instance, non-blocking mutual exclusion.
type LockRepository interface {
	TryAcquire(ctx context.Context, name string) (bool, error)
	Release(ctx context.Context, name string) error
}
