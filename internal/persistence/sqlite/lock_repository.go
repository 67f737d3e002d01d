package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/presence-service/internal/persistence"
)

// LockRepository implements named, non-blocking locks as lease rows. SQLite
// has no session-scoped advisory lock, so every lease carries an expiry after
// which another owner may take it over.
type LockRepository struct {
	pool  *ConnectionPool
	owner string
	ttl   time.Duration
	now   func() time.Time
}

// NewLockRepository returns a lock repository acting on behalf of owner.
func NewLockRepository(pool *ConnectionPool, owner string, ttl time.Duration) *LockRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LockRepository{pool: pool, owner: owner, ttl: ttl, now: time.Now}
}

// TryAcquire takes the named lease if it is free, expired or already held by
// this owner. It never waits for another holder.
func (r *LockRepository) TryAcquire(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, fmt.Errorf("sqlite: lock name is required")
	}
	now := r.now()

	var acquired bool
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM named_locks WHERE name = ? AND expires_at <= ?`,
			name, now.UnixMilli(),
		); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `
			INSERT INTO named_locks (name, owner, expires_at) VALUES (?, ?, ?)
			ON CONFLICT (name) DO UPDATE SET expires_at = excluded.expires_at
			WHERE named_locks.owner = excluded.owner`,
			name, r.owner, now.Add(r.ttl).UnixMilli(),
		)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		acquired = affected == 1
		return nil
	})
	if err != nil {
		if isBusyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("acquire lock %q: %w", name, err)
	}
	return acquired, nil
}

// Release drops the lease if this owner holds it.
func (r *LockRepository) Release(ctx context.Context, name string) error {
	result, err := r.pool.DB().ExecContext(ctx,
		`DELETE FROM named_locks WHERE name = ? AND owner = ?`,
		strings.TrimSpace(name), r.owner,
	)
	if err != nil {
		return fmt.Errorf("release lock %q: %w", name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("release lock %q: %w", name, err)
	}
	if affected == 0 {
		return persistence.ErrLockNotHeld
	}
	return nil
}

var _ persistence.LockRepository = (*LockRepository)(nil)
