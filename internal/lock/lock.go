package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"

	"stockbook/backend/internal/store"
)

// ErrUnavailable reports that the lock backend could not be reached. Callers
// may proceed without the lock since the store still enforces versions.
var ErrUnavailable = errors.New("lock backend unavailable")

type Locker interface {
	// Acquire blocks until key is held or the retry budget runs out. The
	// returned release func is always non-nil on success.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}

type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	backoff time.Duration
	retries int
}

type RedisOptions struct {
	TTL     time.Duration
	Backoff time.Duration
	Retries int
}

func NewRedisLocker(rdb *redis.Client, opts RedisOptions) *RedisLocker {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 50 * time.Millisecond
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &RedisLocker{
		client:  redislock.New(rdb),
		ttl:     opts.TTL,
		backoff: opts.Backoff,
		retries: opts.Retries,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.backoff), l.retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s is busy", store.ErrConflict, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}, nil
}

func ProductKey(productID string) string {
	return "ledger:product:" + productID
}
