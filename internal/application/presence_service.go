package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/presence-service/internal/heartbeat"
)

// PresenceServiceDeps captures the collaborators of a PresenceService.
type PresenceServiceDeps struct {
	Tracker         *heartbeat.Tracker
	Directory       UserDirectory
	OnlineThreshold time.Duration
	Instrumentation Instrumentation
	Logger          *slog.Logger
	Now             func() time.Time
}

// PresenceService applies client activity signals to the local tracker and
// to the shared presence record.
type PresenceService struct {
	tracker   *heartbeat.Tracker
	directory UserDirectory
	threshold time.Duration
	metrics   Instrumentation
	logger    *slog.Logger
	now       func() time.Time
}

// SnapshotEntry is a diagnostics view of one tracker entry.
type SnapshotEntry struct {
	UserID string `json:"userId"`
	Active bool   `json:"active"`
	heartbeat.PublicFields
}

// NewPresenceService wires a presence service.
func NewPresenceService(deps PresenceServiceDeps) *PresenceService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	tracker := deps.Tracker
	if tracker == nil {
		tracker = heartbeat.NewTracker(now)
	}
	return &PresenceService{
		tracker:   tracker,
		directory: deps.Directory,
		threshold: deps.OnlineThreshold,
		metrics:   defaultInstrumentation(deps.Instrumentation),
		logger:    defaultLogger(deps.Logger),
		now:       now,
	}
}

// Tracker exposes the local heartbeat store.
func (s *PresenceService) Tracker() *heartbeat.Tracker {
	return s.tracker
}

// RecordHeartbeat registers an activity signal and marks the user online in
// the shared record.
func (s *PresenceService) RecordHeartbeat(ctx context.Context, params HeartbeatParams) (status PresenceStatus, err error) {
	logger := serviceLogger(ctx, s.logger, "PresenceService", "RecordHeartbeat",
		"user_id", strings.TrimSpace(params.UserID),
		"kind", params.Kind,
	)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "heartbeat rejected", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	user, err := s.lookup(ctx, params.UserID)
	if err != nil {
		return PresenceStatus{}, err
	}

	kind := strings.ToLower(strings.TrimSpace(params.Kind))
	if kind == "" {
		kind = heartbeat.KindHeartbeat
	}
	entry, _ := s.tracker.RecordPing(user.ID, kind, params.IsIdle)
	s.metrics.PingRecorded(kind)
	s.metrics.TrackerSize(s.tracker.Len())

	seen := entry.LastHeartbeatAt.UTC()
	user.IsOnline = true
	user.LastSeenAt = &seen
	if err := s.directory.UpdateUser(ctx, user); err != nil {
		return PresenceStatus{}, s.mapError(fmt.Errorf("touch presence: %w", err))
	}

	return s.status(user, entry), nil
}

// Login marks the user online, stamps the login time and records an
// interaction.
func (s *PresenceService) Login(ctx context.Context, userID string) (status PresenceStatus, err error) {
	logger := serviceLogger(ctx, s.logger, "PresenceService", "Login", "user_id", strings.TrimSpace(userID))
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "login rejected", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "user logged in")
	}()

	user, err := s.lookup(ctx, userID)
	if err != nil {
		return PresenceStatus{}, err
	}

	entry, _ := s.tracker.RecordPing(user.ID, heartbeat.KindInteraction, nil)
	s.metrics.PingRecorded(heartbeat.KindInteraction)
	s.metrics.TrackerSize(s.tracker.Len())

	at := entry.LastHeartbeatAt.UTC()
	loginAt := at
	user.IsOnline = true
	user.LastSeenAt = &at
	user.LastLoginAt = &loginAt
	if err := s.directory.UpdateUser(ctx, user); err != nil {
		return PresenceStatus{}, s.mapError(fmt.Errorf("record login: %w", err))
	}

	return s.status(user, entry), nil
}

// Logout forgets the local entry and marks the user offline.
func (s *PresenceService) Logout(ctx context.Context, userID string) (status PresenceStatus, err error) {
	logger := serviceLogger(ctx, s.logger, "PresenceService", "Logout", "user_id", strings.TrimSpace(userID))
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "logout rejected", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "user logged out")
	}()

	user, err := s.lookup(ctx, userID)
	if err != nil {
		return PresenceStatus{}, err
	}

	s.tracker.ClearUser(user.ID)
	s.metrics.TrackerSize(s.tracker.Len())

	at := s.now().UTC()
	user.IsOnline = false
	user.LastSeenAt = &at
	if err := s.directory.UpdateUser(ctx, user); err != nil {
		return PresenceStatus{}, s.mapError(fmt.Errorf("record logout: %w", err))
	}

	return PresenceStatus{UserID: user.ID, IsOnline: false}, nil
}

// Snapshot lists the local tracker entries ordered by user id.
func (s *PresenceService) Snapshot() []SnapshotEntry {
	entries := s.tracker.Snapshot()
	now := s.now()

	out := make([]SnapshotEntry, 0, len(entries))
	for id, entry := range entries {
		entry := entry
		out = append(out, SnapshotEntry{
			UserID:       id,
			Active:       heartbeat.IsRecent(entry.LastHeartbeatAt, s.threshold, now),
			PublicFields: heartbeat.ToPublicFields(&entry),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (s *PresenceService) lookup(ctx context.Context, userID string) (User, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return User{}, fieldError("userId", "ユーザーIDを指定してください")
	}
	if s.directory == nil {
		return User{}, fmt.Errorf("%w: not configured", ErrDirectoryUnavailable)
	}
	user, err := s.directory.GetUser(ctx, id)
	if err != nil {
		return User{}, s.mapError(err)
	}
	return user, nil
}

func (s *PresenceService) status(user User, entry heartbeat.Entry) PresenceStatus {
	return PresenceStatus{
		UserID:       user.ID,
		IsOnline:     user.IsOnline,
		Active:       heartbeat.IsRecent(entry.LastHeartbeatAt, s.threshold, s.now()),
		PublicFields: heartbeat.ToPublicFields(&entry),
	}
}

func (s *PresenceService) mapError(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
}
