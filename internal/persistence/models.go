package persistence

import "time"

// User is the shared presence record of an account. IsOnline and LastSeenAt
// are written by every instance; the remaining fields belong to the directory.
type User struct {
	ID              string
	Name            string
	Email           string
	Role            string
	ProfileImageURL string
	IsOnline        bool
	LastSeenAt      *time.Time
	LastLoginAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
