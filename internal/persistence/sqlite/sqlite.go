package sqlite

import (
	"context"
	"embed"
	"log/slog"
	"time"

	"github.com/example/presence-service/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store bundles the SQLite-backed repositories of the presence service.
type Store struct {
	pool  *ConnectionPool
	Users *UserRepository
	Locks *LockRepository
}

// Options tune Open.
type Options struct {
	// LockOwner identifies this process in lease rows.
	LockOwner string
	// LockTTL bounds how long a crashed holder keeps a lease.
	LockTTL time.Duration
}

// Open connects to the database described by config.
func Open(ctx context.Context, config Config, opts Options) (*Store, error) {
	pool, err := NewConnectionPool(ctx, config)
	if err != nil {
		return nil, err
	}
	return &Store{
		pool:  pool,
		Users: NewUserRepository(pool),
		Locks: NewLockRepository(pool, opts.LockOwner, opts.LockTTL),
	}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context, logger *slog.Logger) error {
	manager := migration.NewManager(
		migration.NewScanner(migrationFiles, "migrations"),
		migration.NewSQLiteExecutor(s.pool.DB()),
		logger,
	)
	return manager.Run(ctx)
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}
