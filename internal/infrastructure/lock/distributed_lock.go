package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"corracoins/internal/config"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var (
	ErrLockFailed = errors.New("acquire distributed lock failed")
	ErrNotHeld    = errors.New("lock not held by this owner")
)

// unlockScript deletes the key only if it still holds our token, so a holder
// whose lease expired cannot release the next holder's lock.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// DistributedLock is a SET NX EX lease on a single redis key.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock makes a single non-blocking attempt.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock retries TryLock every retryInterval up to maxRetries times.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	n, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Releaser releases a held lock.
type Releaser interface {
	Unlock(ctx context.Context) error
}

// Locker serializes ledger mutations per key.
type Locker interface {
	Acquire(ctx context.Context, key string) (Releaser, error)
}

// RedisLocker hands out DistributedLocks with a fresh owner token each time.
type RedisLocker struct {
	client     *redis.Client
	ttl        time.Duration
	retry      time.Duration
	maxRetries int
}

func NewRedisLocker(client *redis.Client, cfg config.RedisConfig) *RedisLocker {
	return &RedisLocker{
		client:     client,
		ttl:        cfg.LockTTL,
		retry:      cfg.LockRetry,
		maxRetries: cfg.LockMaxRetries,
	}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string) (Releaser, error) {
	l := NewDistributedLock(r.client, key, uuid.NewString(), r.ttl)
	if err := l.Lock(ctx, r.retry, r.maxRetries); err != nil {
		return nil, err
	}
	return l, nil
}

// UserLedgerKey guards every balance-affecting operation of one user.
func UserLedgerKey(userID int64) string {
	return fmt.Sprintf("coins:lock:user:%d", userID)
}

// SessionLedgerKey guards submissions of an unauthenticated session.
func SessionLedgerKey(sessionID string) string {
	return fmt.Sprintf("coins:lock:session:%s", sessionID)
}
