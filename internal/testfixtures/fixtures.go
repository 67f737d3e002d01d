package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/presence-service/internal/application"
	"github.com/example/presence-service/internal/persistence"
)

var userCounter uint64

// UserFixture represents a deterministic user record that can be materialised
// for application or persistence tests.
type UserFixture struct {
	ID              string
	Name            string
	Email           string
	Role            string
	ProfileImageURL string
	IsOnline        bool
	LastSeenAt      *time.Time
	LastLoginAt     *time.Time
	CreatedAt       time.Time
}

// UserOption configures the generated user fixture.
type UserOption func(*UserFixture)

// NewUserFixture returns a deterministic offline member with optional overrides.
func NewUserFixture(opts ...UserOption) UserFixture {
	idx := atomic.AddUint64(&userCounter, 1)
	id := fmt.Sprintf("user-%03d", idx)
	fixture := UserFixture{
		ID:        id,
		Name:      fmt.Sprintf("User %03d", idx),
		Email:     fmt.Sprintf("%s@example.com", id),
		Role:      "member",
		CreatedAt: referenceTime.Add(time.Duration(idx) * time.Minute),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithUserID overrides the generated user ID.
func WithUserID(id string) UserOption {
	return func(f *UserFixture) {
		f.ID = id
	}
}

// WithUserName overrides the generated display name.
func WithUserName(name string) UserOption {
	return func(f *UserFixture) {
		f.Name = name
	}
}

// WithUserRole overrides the role.
func WithUserRole(role string) UserOption {
	return func(f *UserFixture) {
		f.Role = role
	}
}

// WithProfileImage sets the profile image URL.
func WithProfileImage(url string) UserOption {
	return func(f *UserFixture) {
		f.ProfileImageURL = url
	}
}

// WithOnlineSince marks the user online and last seen at t.
func WithOnlineSince(t time.Time) UserOption {
	return func(f *UserFixture) {
		f.IsOnline = true
		f.LastSeenAt = &t
	}
}

// WithLastSeen sets the last seen time without changing the online flag.
func WithLastSeen(t time.Time) UserOption {
	return func(f *UserFixture) {
		f.LastSeenAt = &t
	}
}

// WithLastLogin sets the last login time.
func WithLastLogin(t time.Time) UserOption {
	return func(f *UserFixture) {
		f.LastLoginAt = &t
	}
}

// Application returns the fixture as an application.User value.
func (f UserFixture) Application() application.User {
	return application.User{
		ID:              f.ID,
		Name:            f.Name,
		Email:           f.Email,
		Role:            f.Role,
		ProfileImageURL: f.ProfileImageURL,
		IsOnline:        f.IsOnline,
		LastSeenAt:      cloneTime(f.LastSeenAt),
		LastLoginAt:     cloneTime(f.LastLoginAt),
	}
}

// Persistence returns the fixture as a persistence.User value.
func (f UserFixture) Persistence() persistence.User {
	return persistence.User{
		ID:              f.ID,
		Name:            f.Name,
		Email:           f.Email,
		Role:            f.Role,
		ProfileImageURL: f.ProfileImageURL,
		IsOnline:        f.IsOnline,
		LastSeenAt:      cloneTime(f.LastSeenAt),
		LastLoginAt:     cloneTime(f.LastLoginAt),
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.CreatedAt,
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
