package relational

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/example/presence-service/internal/persistence"
)

type lockStatements struct {
	acquire string
	release string
}

var statementsByDialect = map[string]lockStatements{
	DriverMySQL: {
		acquire: "SELECT COALESCE(GET_LOCK(?, 0), 0)",
		release: "SELECT RELEASE_LOCK(?)",
	},
	DriverPostgres: {
		acquire: "SELECT pg_try_advisory_lock(hashtext($1))",
		release: "SELECT pg_advisory_unlock(hashtext($1))",
	},
}

// AdvisoryLocker uses the server's named advisory locks. Each held lock pins
// a dedicated connection, so the server frees the lock by itself if this
// process dies.
type AdvisoryLocker struct {
	db         *sql.DB
	statements lockStatements

	mu   sync.Mutex
	held map[string]*sql.Conn
}

// NewAdvisoryLocker returns a locker for the dialect of db.
func NewAdvisoryLocker(db *gorm.DB) (*AdvisoryLocker, error) {
	name := db.Dialector.Name()
	statements, ok := statementsByDialect[name]
	if !ok {
		return nil, fmt.Errorf("relational: advisory locks are not supported on %q", name)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return &AdvisoryLocker{db: sqlDB, statements: statements, held: make(map[string]*sql.Conn)}, nil
}

// TryAcquire attempts the lock with zero wait. A lock already held by this
// locker is reported as busy.
func (l *AdvisoryLocker) TryAcquire(ctx context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[name]; ok {
		return false, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire lock %q: %w", name, err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, l.statements.acquire, name).Scan(&acquired); err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("acquire lock %q: %w", name, err)
	}
	if !acquired {
		_ = conn.Close()
		return false, nil
	}
	l.held[name] = conn
	return true, nil
}

// Release unlocks name and returns its connection to the pool.
func (l *AdvisoryLocker) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	conn, ok := l.held[name]
	delete(l.held, name)
	l.mu.Unlock()

	if !ok {
		return persistence.ErrLockNotHeld
	}
	defer conn.Close()

	var released sql.NullBool
	if err := conn.QueryRowContext(ctx, l.statements.release, name).Scan(&released); err != nil {
		return fmt.Errorf("release lock %q: %w", name, err)
	}
	if !released.Valid || !released.Bool {
		return persistence.ErrLockNotHeld
	}
	return nil
}

var _ persistence.LockRepository = (*AdvisoryLocker)(nil)
