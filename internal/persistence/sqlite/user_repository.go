package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/presence-service/internal/persistence"
)

// timestampLayout is fixed width so that TEXT comparisons order like time.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

const userColumns = `id, name, email, role, profile_image_url, is_online, last_seen_at, last_login_at, created_at, updated_at`

// UserRepository implements persistence.UserRepository using SQLite.
type UserRepository struct {
	pool  *ConnectionPool
	retry RetryConfig
	now   func() time.Time
}

// NewUserRepository creates a new SQLite user repository.
func NewUserRepository(pool *ConnectionPool) *UserRepository {
	return &UserRepository{pool: pool, retry: DefaultRetryConfig(), now: time.Now}
}

// CreateUser inserts a new user. Zero timestamps are filled with the current time.
func (r *UserRepository) CreateUser(ctx context.Context, user persistence.User) error {
	if strings.TrimSpace(user.ID) == "" {
		return fmt.Errorf("sqlite: user id is required")
	}
	now := r.now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}

	_, err := r.pool.DB().ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Name,
		normalizeEmail(user.Email),
		user.Role,
		user.ProfileImageURL,
		user.IsOnline,
		formatNullable(user.LastSeenAt),
		formatNullable(user.LastLoginAt),
		formatTimestamp(user.CreatedAt),
		formatTimestamp(user.UpdatedAt),
	)
	return mapError(err)
}

// UpdateUser overwrites every mutable column of an existing user.
func (r *UserRepository) UpdateUser(ctx context.Context, user persistence.User) error {
	if user.ID == "" {
		return persistence.ErrNotFound
	}
	user.UpdatedAt = r.now().UTC()

	var affected int64
	err := withRetry(ctx, r.retry, func() error {
		result, err := r.pool.DB().ExecContext(ctx, `
			UPDATE users
			SET name = ?, email = ?, role = ?, profile_image_url = ?, is_online = ?,
			    last_seen_at = ?, last_login_at = ?, updated_at = ?
			WHERE id = ?`,
			user.Name,
			normalizeEmail(user.Email),
			user.Role,
			user.ProfileImageURL,
			user.IsOnline,
			formatNullable(user.LastSeenAt),
			formatNullable(user.LastLoginAt),
			formatTimestamp(user.UpdatedAt),
			user.ID,
		)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return mapError(err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// GetUser retrieves a user by ID.
func (r *UserRepository) GetUser(ctx context.Context, id string) (persistence.User, error) {
	if id == "" {
		return persistence.User{}, persistence.ErrNotFound
	}
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	if err != nil {
		return persistence.User{}, mapError(err)
	}
	return user, nil
}

// ListUsers returns all users ordered by ID.
func (r *UserRepository) ListUsers(ctx context.Context) ([]persistence.User, error) {
	return r.query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id ASC`)
}

// ListUsersActiveSince returns users who logged in at or after since plus all
// users currently online.
func (r *UserRepository) ListUsersActiveSince(ctx context.Context, since time.Time) ([]persistence.User, error) {
	return r.query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE (last_login_at IS NOT NULL AND last_login_at >= ?) OR is_online = 1
		ORDER BY id ASC`,
		formatTimestamp(since),
	)
}

// MarkStaleOffline demotes online users last seen before cutoff.
func (r *UserRepository) MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	var affected int64
	err := withRetry(ctx, r.retry, func() error {
		result, err := r.pool.DB().ExecContext(ctx, `
			UPDATE users
			SET is_online = 0, updated_at = ?
			WHERE is_online = 1 AND last_seen_at IS NOT NULL AND last_seen_at < ?`,
			formatTimestamp(r.now()),
			formatTimestamp(cutoff),
		)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("mark stale users offline: %w", mapError(err))
	}
	return affected, nil
}

// DeleteUser removes a user by ID.
func (r *UserRepository) DeleteUser(ctx context.Context, id string) error {
	result, err := r.pool.DB().ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (r *UserRepository) query(ctx context.Context, query string, args ...any) ([]persistence.User, error) {
	rows, err := r.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var users []persistence.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (persistence.User, error) {
	var (
		user                 persistence.User
		lastSeen, lastLogin  sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Role,
		&user.ProfileImageURL,
		&user.IsOnline,
		&lastSeen,
		&lastLogin,
		&createdAt,
		&updatedAt,
	); err != nil {
		return persistence.User{}, err
	}

	var err error
	if user.LastSeenAt, err = parseNullable(lastSeen); err != nil {
		return persistence.User{}, fmt.Errorf("parse last_seen_at: %w", err)
	}
	if user.LastLoginAt, err = parseNullable(lastLogin); err != nil {
		return persistence.User{}, fmt.Errorf("parse last_login_at: %w", err)
	}
	if user.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
		return persistence.User{}, fmt.Errorf("parse created_at: %w", err)
	}
	if user.UpdatedAt, err = time.Parse(timestampLayout, updatedAt); err != nil {
		return persistence.User{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return user, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func formatNullable(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTimestamp(*t)
}

func parseNullable(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timestampLayout, value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var (
	_ persistence.UserRepository = (*UserRepository)(nil)
	_ persistence.StaleDemoter   = (*UserRepository)(nil)
)
