package application

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Long-poll bounds in milliseconds.
const (
	DefaultWaitTimeoutMs = 25000
	MinWaitTimeoutMs     = 1000
	MaxWaitTimeoutMs     = 30000
)

// DefaultPollSlice is the pause between recomputations while waiting.
const DefaultPollSlice = 150 * time.Millisecond

const unknownRole = "unknown"

// ActivityServiceDeps captures the collaborators of an ActivityService.
type ActivityServiceDeps struct {
	Directory       UserDirectory
	Instrumentation Instrumentation
	Logger          *slog.Logger
	Now             func() time.Time
	// After replaces time.After while waiting between recomputations.
	After     func(time.Duration) <-chan time.Time
	PollSlice time.Duration
}

// ActivityService builds activity reports and serves long-poll waits on them.
type ActivityService struct {
	directory UserDirectory
	metrics   Instrumentation
	logger    *slog.Logger
	now       func() time.Time
	after     func(time.Duration) <-chan time.Time
	slice     time.Duration
}

// NewActivityService wires an activity service.
func NewActivityService(deps ActivityServiceDeps) *ActivityService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	after := deps.After
	if after == nil {
		after = time.After
	}
	slice := deps.PollSlice
	if slice <= 0 {
		slice = DefaultPollSlice
	}
	return &ActivityService{
		directory: deps.Directory,
		metrics:   defaultInstrumentation(deps.Instrumentation),
		logger:    defaultLogger(deps.Logger),
		now:       now,
		after:     after,
		slice:     slice,
	}
}

// BuildReport computes the activity report of the window named by windowKey.
// Unknown keys fall back to DefaultWindow.
func (s *ActivityService) BuildReport(ctx context.Context, windowKey string) (ActivityReport, error) {
	if s == nil || s.directory == nil {
		return ActivityReport{}, fmt.Errorf("%w: not configured", ErrDirectoryUnavailable)
	}

	window := ParseWindow(windowKey)
	now := s.now().UTC()
	cutoff := now.Add(-window.Duration())

	users, err := s.directory.ListRecentUsersSince(ctx, cutoff)
	if err != nil {
		return ActivityReport{}, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	live := make([]ActivityUser, 0)
	recent := make([]ActivityUser, 0, len(users))
	byRole := make(map[string]int)
	for _, user := range users {
		entry := newActivityUser(user)
		if entry.IsOnline {
			live = append(live, entry)
		}
		if !entry.lastLogin.IsZero() && !entry.lastLogin.Before(cutoff) {
			recent = append(recent, entry)
			byRole[entry.Role]++
		}
	}

	sort.SliceStable(recent, func(i, j int) bool {
		a, b := recent[i].lastLogin, recent[j].lastLogin
		if !a.Equal(b) {
			return a.After(b)
		}
		return recent[i].ID < recent[j].ID
	})
	sort.SliceStable(live, func(i, j int) bool {
		a, b := strings.ToLower(displayName(live[i])), strings.ToLower(displayName(live[j]))
		if a != b {
			return a < b
		}
		return live[i].ID < live[j].ID
	})

	etag, err := computeETag(window, recent, live)
	if err != nil {
		return ActivityReport{}, err
	}

	return ActivityReport{
		Window:      window,
		ETag:        etag,
		GeneratedAt: formatTime(now),
		Cutoff:      formatTime(cutoff),
		LiveUsers:   live,
		Total:       len(recent),
		ByRole:      byRole,
		Users:       recent,
	}, nil
}

// WaitForChange returns as soon as the report differs from params.ETag, or
// once the timeout elapses with the latest, unchanged report. A failed
// recomputation while waiting counts as "no change". Cancelling ctx abandons
// the wait and returns ctx.Err() with the last report.
func (s *ActivityService) WaitForChange(ctx context.Context, params WaitParams) (report ActivityReport, err error) {
	start := s.now()
	timeout := time.Duration(ClampWaitTimeoutMs(params.TimeoutMs)) * time.Millisecond
	changed := false

	logger := serviceLogger(ctx, s.logger, "ActivityService", "WaitForChange",
		"window", ParseWindow(params.Window),
		"timeout", timeout,
	)
	defer func() {
		elapsed := s.now().Sub(start)
		if err != nil {
			logger.DebugContext(ctx, "activity wait ended early", "error", err, "error_kind", ErrorKind(err), "elapsed", elapsed)
			return
		}
		s.metrics.WaitFinished(report.Window, changed, elapsed)
	}()

	report, err = s.BuildReport(ctx, params.Window)
	if err != nil {
		return ActivityReport{}, err
	}
	if params.ETag == "" || report.ETag != params.ETag {
		changed = true
		return report, nil
	}

	deadline := start.Add(timeout)
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		remaining := deadline.Sub(s.now())
		if remaining <= 0 {
			return report, nil
		}
		pause := s.slice
		if remaining < pause {
			pause = remaining
		}

		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-s.after(pause):
		}

		next, buildErr := s.BuildReport(ctx, params.Window)
		if buildErr != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			logger.WarnContext(ctx, "recompute failed while waiting", "error", buildErr)
			continue
		}
		report = next
		if report.ETag != params.ETag {
			changed = true
			return report, nil
		}
	}
}

// ClampWaitTimeoutMs applies the long-poll default and bounds.
func ClampWaitTimeoutMs(ms int) int {
	switch {
	case ms == 0:
		return DefaultWaitTimeoutMs
	case ms < MinWaitTimeoutMs:
		return MinWaitTimeoutMs
	case ms > MaxWaitTimeoutMs:
		return MaxWaitTimeoutMs
	default:
		return ms
	}
}

func newActivityUser(user User) ActivityUser {
	role := strings.ToLower(strings.TrimSpace(user.Role))
	if role == "" {
		role = unknownRole
	}
	entry := ActivityUser{
		ID:       user.ID,
		Name:     user.Name,
		Email:    user.Email,
		Role:     role,
		IsOnline: user.IsOnline,
	}
	if user.LastLoginAt != nil && !user.LastLoginAt.IsZero() {
		entry.lastLogin = user.LastLoginAt.UTC()
		formatted := formatTime(entry.lastLogin)
		entry.LastLoginAt = &formatted
	}
	if url := strings.TrimSpace(user.ProfileImageURL); url != "" {
		entry.ProfileImageURL = &url
	}
	return entry
}

func displayName(u ActivityUser) string {
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	if email := strings.TrimSpace(u.Email); email != "" {
		return email
	}
	return u.ID
}

// userSignature holds the fields that version a report. Fields are declared
// in key order so encoding/json emits canonical output.
type userSignature struct {
	ID          string  `json:"id"`
	IsOnline    bool    `json:"isOnline"`
	LastLoginAt *string `json:"lastLoginAt"`
	Role        string  `json:"role"`
}

type reportSignature struct {
	Live   []userSignature `json:"live"`
	Recent []userSignature `json:"recent"`
	Window Window          `json:"window"`
}

func signatures(entries []ActivityUser) []userSignature {
	sigs := make([]userSignature, 0, len(entries))
	for _, e := range entries {
		sigs = append(sigs, userSignature{ID: e.ID, IsOnline: e.IsOnline, LastLoginAt: e.LastLoginAt, Role: e.Role})
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].ID < sigs[j].ID })
	return sigs
}

// computeETag hashes the window and the reduced user signatures. Names,
// emails, profile images, cutoff and generation time are deliberately absent.
func computeETag(window Window, recent, live []ActivityUser) (string, error) {
	payload, err := json.Marshal(reportSignature{
		Live:   signatures(live),
		Recent: signatures(recent),
		Window: window,
	})
	if err != nil {
		return "", fmt.Errorf("encode report signature: %w", err)
	}
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
