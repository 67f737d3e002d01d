package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/presence-service/internal/heartbeat"
)

var presenceNow = time.Date(2024, time.July, 8, 8, 0, 0, 0, time.UTC)

func newTestPresenceService(dir UserDirectory, metrics Instrumentation) *PresenceService {
	now := func() time.Time { return presenceNow }
	return NewPresenceService(PresenceServiceDeps{
		Tracker:         heartbeat.NewTracker(now),
		Directory:       dir,
		OnlineThreshold: 300 * time.Second,
		Instrumentation: metrics,
		Now:             now,
	})
}

func TestPresenceService_RecordHeartbeat(t *testing.T) {
	t.Parallel()

	t.Run("rejects blank user ids", func(t *testing.T) {
		t.Parallel()
		svc := newTestPresenceService(newDirectoryStub(), nil)

		_, err := svc.RecordHeartbeat(context.Background(), HeartbeatParams{UserID: "  "})
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if _, ok := vErr.FieldErrors["userId"]; !ok {
			t.Fatalf("expected userId field error, got %v", vErr.FieldErrors)
		}
	})

	t.Run("rejects unknown users", func(t *testing.T) {
		t.Parallel()
		svc := newTestPresenceService(newDirectoryStub(), nil)

		_, err := svc.RecordHeartbeat(context.Background(), HeartbeatParams{UserID: "ghost"})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if svc.Tracker().Len() != 0 {
			t.Fatalf("unknown users must not be tracked")
		}
	})

	t.Run("touches the shared record", func(t *testing.T) {
		t.Parallel()
		dir := newDirectoryStub(User{ID: "u1", Name: "Ann"})
		metrics := &recordingInstrumentation{}
		svc := newTestPresenceService(dir, metrics)

		status, err := svc.RecordHeartbeat(context.Background(), HeartbeatParams{UserID: " u1 ", Kind: "Heartbeat", IsIdle: boolPtr(true)})
		if err != nil {
			t.Fatalf("RecordHeartbeat returned error: %v", err)
		}
		if !status.IsOnline || !status.Active {
			t.Fatalf("unexpected status %+v", status)
		}
		if status.IsIdle == nil || !*status.IsIdle {
			t.Fatalf("expected idle flag to be reported")
		}
		if status.LastInteractionAt != nil {
			t.Fatalf("idle heartbeat must not set interaction time")
		}

		stored := dir.get("u1")
		if !stored.IsOnline || stored.LastSeenAt == nil || !stored.LastSeenAt.Equal(presenceNow) {
			t.Fatalf("unexpected stored user %+v", stored)
		}
		if stored.Name != "Ann" {
			t.Fatalf("heartbeat must keep the rest of the record")
		}
		if len(metrics.pings) != 1 || metrics.pings[0] != heartbeat.KindHeartbeat || metrics.lastSize != 1 {
			t.Fatalf("unexpected metrics %+v", metrics.pings)
		}
	})

	t.Run("maps store failures", func(t *testing.T) {
		t.Parallel()
		dir := newDirectoryStub(User{ID: "u1"})
		dir.updateErr = errors.New("disk full")
		svc := newTestPresenceService(dir, nil)

		_, err := svc.RecordHeartbeat(context.Background(), HeartbeatParams{UserID: "u1"})
		if !errors.Is(err, ErrDirectoryUnavailable) {
			t.Fatalf("expected ErrDirectoryUnavailable, got %v", err)
		}
	})
}

func TestPresenceService_LoginLogout(t *testing.T) {
	t.Parallel()

	dir := newDirectoryStub(User{ID: "u1", Role: "member"})
	svc := newTestPresenceService(dir, nil)
	ctx := context.Background()

	status, err := svc.Login(ctx, "u1")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if !status.IsOnline || status.IsIdle == nil || *status.IsIdle {
		t.Fatalf("unexpected login status %+v", status)
	}
	stored := dir.get("u1")
	if !stored.IsOnline || stored.LastLoginAt == nil || !stored.LastLoginAt.Equal(presenceNow) {
		t.Fatalf("expected login to be stamped, got %+v", stored)
	}

	status, err = svc.Logout(ctx, "u1")
	if err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}
	if status.IsOnline || status.LastSeenAt != nil {
		t.Fatalf("unexpected logout status %+v", status)
	}
	if _, ok := svc.Tracker().Get("u1"); ok {
		t.Fatalf("expected local entry to be cleared")
	}
	stored = dir.get("u1")
	if stored.IsOnline || stored.LastLoginAt == nil {
		t.Fatalf("expected offline user with login time kept, got %+v", stored)
	}

	if _, err := svc.Logout(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPresenceService_Snapshot(t *testing.T) {
	t.Parallel()

	dir := newDirectoryStub(User{ID: "b"}, User{ID: "a"})
	svc := newTestPresenceService(dir, nil)
	for _, id := range []string{"b", "a"} {
		if _, err := svc.RecordHeartbeat(context.Background(), HeartbeatParams{UserID: id}); err != nil {
			t.Fatalf("RecordHeartbeat(%s) returned error: %v", id, err)
		}
	}

	entries := svc.Snapshot()
	if len(entries) != 2 || entries[0].UserID != "a" || entries[1].UserID != "b" {
		t.Fatalf("unexpected snapshot %+v", entries)
	}
	if !entries[0].Active || entries[0].LastSeenAt == nil {
		t.Fatalf("expected active entry with last-seen time")
	}
}
