// Package memory provides a process-local user directory. It backs the
// fallback presence mode, where no shared store is available and the sweep
// walks the directory itself without distributed locking.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/presence-service/internal/persistence"
)

// Store keeps users in a map guarded by a read/write mutex.
type Store struct {
	mu    sync.RWMutex
	users map[string]persistence.User
}

// New returns an empty store.
func New() *Store {
	return &Store{users: make(map[string]persistence.User)}
}

// CreateUser stores a new user.
func (s *Store) CreateUser(_ context.Context, user persistence.User) error {
	if strings.TrimSpace(user.ID) == "" {
		return fmt.Errorf("memory: user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("%w: user %s", persistence.ErrDuplicate, user.ID)
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
	s.users[user.ID] = cloneUser(user)
	return nil
}

// UpdateUser replaces an existing user.
func (s *Store) UpdateUser(_ context.Context, user persistence.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = time.Now().UTC()
	s.users[user.ID] = cloneUser(user)
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(_ context.Context, id string) (persistence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return persistence.User{}, persistence.ErrNotFound
	}
	return cloneUser(user), nil
}

// ListUsers returns all users ordered by ID.
func (s *Store) ListUsers(_ context.Context) ([]persistence.User, error) {
	return s.collect(func(persistence.User) bool { return true }), nil
}

// ListUsersActiveSince returns users who logged in at or after since plus all
// users currently online.
func (s *Store) ListUsersActiveSince(_ context.Context, since time.Time) ([]persistence.User, error) {
	return s.collect(func(user persistence.User) bool {
		if user.IsOnline {
			return true
		}
		return user.LastLoginAt != nil && !user.LastLoginAt.Before(since)
	}), nil
}

// DeleteUser removes a user by ID.
func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *Store) collect(keep func(persistence.User) bool) []persistence.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]persistence.User, 0, len(s.users))
	for _, user := range s.users {
		if keep(user) {
			users = append(users, cloneUser(user))
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

func cloneUser(user persistence.User) persistence.User {
	clone := user
	clone.LastSeenAt = cloneTime(user.LastSeenAt)
	clone.LastLoginAt = cloneTime(user.LastLoginAt)
	return clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var _ persistence.UserRepository = (*Store)(nil)
