package application

import (
	"context"
	"time"
)

// UserDirectory is the user store consumed by the presence services.
type UserDirectory interface {
	// ListRecentUsersSince returns users whose last login is at or after
	// cutoff together with every user currently flagged online.
	ListRecentUsersSince(ctx context.Context, cutoff time.Time) ([]User, error)
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id string) (User, error)
	UpdateUser(ctx context.Context, user User) error
}

// StalePresenceStore demotes stale online users with one shared-record update.
type StalePresenceStore interface {
	MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error)
}

// DistributedLock is a named, non-blocking, cross-process mutex.
type DistributedLock interface {
	// TryAcquire returns false without waiting when the lock is held elsewhere.
	TryAcquire(ctx context.Context, name string) (bool, error)
	Release(ctx context.Context, name string) error
}

// Instrumentation receives presence events for metrics.
type Instrumentation interface {
	PingRecorded(kind string)
	TrackerSize(n int)
	SweepFinished(outcome SweepOutcome)
	WaitFinished(window Window, changed bool, elapsed time.Duration)
}

type noopInstrumentation struct{}

func (noopInstrumentation) PingRecorded(string)                      {}
func (noopInstrumentation) TrackerSize(int)                          {}
func (noopInstrumentation) SweepFinished(SweepOutcome)               {}
func (noopInstrumentation) WaitFinished(Window, bool, time.Duration) {}

func defaultInstrumentation(i Instrumentation) Instrumentation {
	if i == nil {
		return noopInstrumentation{}
	}
	return i
}
