package main

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/example/presence-service/internal/config"
	"github.com/example/presence-service/internal/persistence"
	"github.com/example/presence-service/internal/persistence/memory"
	"github.com/example/presence-service/internal/persistence/redislock"
	"github.com/example/presence-service/internal/persistence/relational"
	"github.com/example/presence-service/internal/persistence/sqlite"
)

// backend is the storage side selected by configuration. stale and locks are
// nil when the driver cannot provide them.
type backend struct {
	users  persistence.UserRepository
	stale  persistence.StaleDemoter
	locks  persistence.LockRepository
	pinger interface{ Ping(context.Context) error }

	closers []func() error
	logger  *slog.Logger
}

func openBackend(ctx context.Context, cfg config.Config, instanceID string, logger *slog.Logger) (*backend, error) {
	b := &backend{logger: logger}

	switch cfg.StoreDriver {
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, sqlite.DefaultConfig(cfg.StoreDSN), sqlite.Options{LockOwner: instanceID, LockTTL: cfg.LockTTL})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		b.closers = append(b.closers, store.Close)
		if err := store.Migrate(ctx, logger); err != nil {
			b.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		b.users, b.stale, b.locks, b.pinger = store.Users, store.Users, store.Locks, store

	case config.DriverMySQL, config.DriverPostgres:
		db, err := relational.Open(ctx, cfg.StoreDriver, cfg.StoreDSN, relational.DefaultPoolConfig())
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
		}
		b.closers = append(b.closers, func() error { return relational.Close(db) })
		repo := relational.NewUserRepository(db)
		b.users, b.stale, b.pinger = repo, repo, gormPinger{db: db}
		if cfg.LockBackend == config.LockBackendStore {
			locker, err := relational.NewAdvisoryLocker(db)
			if err != nil {
				b.Close()
				return nil, fmt.Errorf("create advisory locker: %w", err)
			}
			b.locks = locker
		}

	case config.DriverMemory:
		b.users = memory.New()

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}

	if cfg.LockBackend == config.LockBackendRedis && b.stale != nil {
		client, err := redislock.Connect(ctx, cfg.RedisURL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, client.Close)
		b.locks = redislock.New(client, instanceID, cfg.LockTTL)
	}

	return b, nil
}

// Close releases every opened connection in reverse order.
func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			b.logger.Error("failed to close backend", "error", err)
		}
	}
	b.closers = nil
}

type gormPinger struct {
	db *gorm.DB
}

func (p gormPinger) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
