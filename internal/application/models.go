package application

import (
	"strings"
	"time"

	"github.com/example/presence-service/internal/heartbeat"
)

// User is the directory view of an account together with its shared
// presence record.
type User struct {
	ID              string
	Name            string
	Email           string
	Role            string
	ProfileImageURL string
	IsOnline        bool
	LastSeenAt      *time.Time
	LastLoginAt     *time.Time
}

// Window names a report lookback period.
type Window string

// Supported report windows.
const (
	WindowHour    Window = "hour"
	WindowDay     Window = "day"
	Window3Days   Window = "3days"
	WindowWeek    Window = "week"
	WindowMonth   Window = "month"
	Window6Months Window = "6months"
	WindowYear    Window = "year"
)

// DefaultWindow is used for unknown window keys.
const DefaultWindow = WindowDay

var windowDurations = map[Window]time.Duration{
	WindowHour:    time.Hour,
	WindowDay:     24 * time.Hour,
	Window3Days:   3 * 24 * time.Hour,
	WindowWeek:    7 * 24 * time.Hour,
	WindowMonth:   30 * 24 * time.Hour,
	Window6Months: 182 * 24 * time.Hour,
	WindowYear:    365 * 24 * time.Hour,
}

// ParseWindow resolves a window key. Unknown or blank keys yield DefaultWindow.
func ParseWindow(key string) Window {
	w := Window(strings.ToLower(strings.TrimSpace(key)))
	if _, ok := windowDurations[w]; ok {
		return w
	}
	return DefaultWindow
}

// Duration returns the lookback of w, falling back to the default window.
func (w Window) Duration() time.Duration {
	if d, ok := windowDurations[w]; ok {
		return d
	}
	return windowDurations[DefaultWindow]
}

// ActivityUser is the public entry of a user inside an activity report.
type ActivityUser struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Email           string  `json:"email"`
	Role            string  `json:"role"`
	IsOnline        bool    `json:"isOnline"`
	LastLoginAt     *string `json:"lastLoginAt"`
	ProfileImageURL *string `json:"profileImageUrl"`

	lastLogin time.Time
}

// ActivityReport answers who logged in within a window and who is live now.
type ActivityReport struct {
	Window      Window         `json:"window"`
	ETag        string         `json:"etag"`
	GeneratedAt string         `json:"generatedAt"`
	Cutoff      string         `json:"cutoff"`
	LiveUsers   []ActivityUser `json:"liveUsers"`
	Total       int            `json:"total"`
	ByRole      map[string]int `json:"byRole"`
	Users       []ActivityUser `json:"users"`
}

// WaitParams describes a long-poll request.
type WaitParams struct {
	Window string
	// ETag is the report version the caller already holds; empty means none.
	ETag string
	// TimeoutMs bounds the wait. Zero selects the default.
	TimeoutMs int
}

// HeartbeatParams carries a client activity signal.
type HeartbeatParams struct {
	UserID string
	Kind   string
	IsIdle *bool
}

// PresenceStatus is returned by presence write operations.
type PresenceStatus struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
	// Active reports whether the last local heartbeat is within the online threshold.
	Active bool `json:"active"`
	heartbeat.PublicFields
}
