// Package redislock implements named, non-blocking locks on Redis keys.
package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/presence-service/internal/persistence"
)

const keyPrefix = "presence:lock:"

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// Locker acquires locks with SET NX PX. The TTL frees a lock whose holder
// vanished without releasing it.
type Locker struct {
	client redis.UniversalClient
	token  string
	ttl    time.Duration
}

// New returns a locker that tags its keys with token.
func New(client redis.UniversalClient, token string, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Locker{client: client, token: token, ttl: ttl}
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// TryAcquire sets the lock key if it is absent. It never waits.
func (l *Locker) TryAcquire(ctx context.Context, name string) (bool, error) {
	ok, err := l.client.SetNX(ctx, keyPrefix+name, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %q: %w", name, err)
	}
	return ok, nil
}

// Release deletes the lock key if this locker still owns it.
func (l *Locker) Release(ctx context.Context, name string) error {
	deleted, err := releaseScript.Run(ctx, l.client, []string{keyPrefix + name}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("release lock %q: %w", name, err)
	}
	if deleted == 0 {
		return persistence.ErrLockNotHeld
	}
	return nil
}

var _ persistence.LockRepository = (*Locker)(nil)
