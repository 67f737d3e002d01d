package heartbeat

import (
	"math"
	"strings"
	"sync"
	"time"
)

const (
	// KindHeartbeat is the periodic keepalive sent by an open client.
	KindHeartbeat = "heartbeat"
	// KindInteraction marks an explicit, non-idle user action.
	KindInteraction = "interaction"
)

// DefaultFutureSkew bounds how far ahead of the local clock a timestamp may be
// before it is no longer considered recent.
const DefaultFutureSkew = 5 * time.Second

// IdleState is the last idle flag reported by a client.
type IdleState int8

const (
	// IdleUnknown means no idle flag has been reported yet.
	IdleUnknown IdleState = iota
	// IdleTrue means the client reported the user as idle.
	IdleTrue
	// IdleFalse means the client reported the user as active.
	IdleFalse
)

// Ptr converts the state into a nullable boolean.
func (s IdleState) Ptr() *bool {
	switch s {
	case IdleTrue:
		v := true
		return &v
	case IdleFalse:
		v := false
		return &v
	default:
		return nil
	}
}

func idleStateOf(v bool) IdleState {
	if v {
		return IdleTrue
	}
	return IdleFalse
}

// Entry is the process-local presence record of a single user.
type Entry struct {
	LastHeartbeatAt   time.Time
	LastInteractionAt time.Time
	Idle              IdleState
	UpdatedAt         time.Time
}

// IsZero reports whether the entry carries no observation at all.
func (e Entry) IsZero() bool {
	return e.LastHeartbeatAt.IsZero() && e.LastInteractionAt.IsZero() && e.UpdatedAt.IsZero()
}

// PublicFields is the wire representation of an entry. Every field is nil when
// the underlying value is unknown.
type PublicFields struct {
	LastSeenAt        *string `json:"lastSeenAt"`
	LastInteractionAt *string `json:"lastInteractionAt"`
	IsIdle            *bool   `json:"isIdle"`
}

// Tracker keeps the heartbeat state of every user seen by this process. The
// map is never shared across processes; only the persisted presence record is
// authoritative for other instances.
type Tracker struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]Entry
}

// NewTracker constructs an empty tracker. When now is nil, time.Now is used.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now, entries: make(map[string]Entry)}
}

// RecordPing registers an activity signal for userID. The second return value
// is false when userID is blank, in which case nothing is stored.
//
// Kind is compared case-insensitively. An interaction always clears the idle
// flag and refreshes the interaction time; for other kinds an explicit
// isIdle=false is treated the same way.
func (t *Tracker) RecordPing(userID, kind string, isIdle *bool) (Entry, bool) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return Entry{}, false
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	entry := t.entries[id]
	entry.LastHeartbeatAt = now
	entry.UpdatedAt = now
	switch {
	case kind == KindInteraction:
		entry.LastInteractionAt = now
		entry.Idle = IdleFalse
	case isIdle != nil:
		entry.Idle = idleStateOf(*isIdle)
		if !*isIdle {
			entry.LastInteractionAt = now
		}
	}
	t.entries[id] = entry
	return entry, true
}

// Get returns the entry for userID, if present.
func (t *Tracker) Get(userID string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[strings.TrimSpace(userID)]
	return entry, ok
}

// Snapshot returns a copy of every tracked entry.
func (t *Tracker) Snapshot() map[string]Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Entry, len(t.entries))
	for id, entry := range t.entries {
		out[id] = entry
	}
	return out
}

// Len reports the number of tracked users.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// PruneStale drops every entry whose last heartbeat is missing, pre-epoch or
// older than maxAge, and returns the number of removed entries. It only bounds
// memory; the persisted presence record is left untouched.
func (t *Tracker) PruneStale(maxAge time.Duration) int {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, entry := range t.entries {
		if id == "" || !validEpoch(entry.LastHeartbeatAt) || now.Sub(entry.LastHeartbeatAt) > maxAge {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

// ClearUser removes the entry for userID and reports whether it existed.
func (t *Tracker) ClearUser(userID string) bool {
	id := strings.TrimSpace(userID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; !ok {
		return false
	}
	delete(t.entries, id)
	return true
}

// ToPublicFields converts an entry into its wire form. A nil or empty entry
// yields all-nil fields.
func ToPublicFields(entry *Entry) PublicFields {
	if entry == nil || entry.IsZero() {
		return PublicFields{}
	}
	return PublicFields{
		LastSeenAt:        FormatTimestamp(entry.LastHeartbeatAt),
		LastInteractionAt: FormatTimestamp(entry.LastInteractionAt),
		IsIdle:            entry.Idle.Ptr(),
	}
}

// FormatTimestamp renders ts in the wire format, or nil when ts is unset.
func FormatTimestamp(ts time.Time) *string {
	if !validEpoch(ts) {
		return nil
	}
	s := ts.UTC().Format(time.RFC3339Nano)
	return &s
}

// IsRecent reports whether ts lies within threshold of now, tolerating up to
// DefaultFutureSkew of clock drift into the future.
func IsRecent(ts time.Time, threshold time.Duration, now time.Time) bool {
	return IsRecentWithSkew(ts, threshold, now, DefaultFutureSkew)
}

// IsRecentWithSkew is IsRecent with an explicit future skew. Both bounds are
// inclusive. Missing or pre-epoch timestamps are never recent.
func IsRecentWithSkew(ts time.Time, threshold time.Duration, now time.Time, futureSkew time.Duration) bool {
	if !validEpoch(ts) {
		return false
	}
	if now.IsZero() {
		now = time.Now()
	}
	age := now.Sub(ts)
	if age > threshold {
		return false
	}
	if -age > futureSkew {
		return false
	}
	return true
}

// IsRecentEpoch applies the IsRecent rules to Unix timestamps expressed in
// seconds. A nowEpoch of zero means the current time; NaN and infinite inputs
// are rejected.
func IsRecentEpoch(ts, thresholdSeconds, nowEpoch, futureSkewSeconds float64) bool {
	if math.IsNaN(ts) || math.IsInf(ts, 0) || ts <= 0 {
		return false
	}
	if math.IsNaN(nowEpoch) || math.IsInf(nowEpoch, 0) {
		return false
	}
	if nowEpoch <= 0 {
		nowEpoch = float64(time.Now().UnixNano()) / float64(time.Second)
	}
	return IsRecentWithSkew(
		epochToTime(ts),
		secondsToDuration(thresholdSeconds),
		epochToTime(nowEpoch),
		secondsToDuration(futureSkewSeconds),
	)
}

func validEpoch(ts time.Time) bool {
	return !ts.IsZero() && ts.UnixNano() > 0
}

func epochToTime(seconds float64) time.Time {
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*float64(time.Second)))
}

func secondsToDuration(seconds float64) time.Duration {
	if math.IsNaN(seconds) {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
