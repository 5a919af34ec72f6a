package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"stockbook/backend/internal/store"
)

func newTestLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLocker(rdb, RedisOptions{TTL: 5 * time.Second, Backoff: 10 * time.Millisecond, Retries: 2}), mr
}

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx := context.Background()
	key := ProductKey("prd_1")

	release, err := l.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, key)
	require.True(t, errors.Is(err, store.ErrConflict), "expected conflict, got %v", err)

	release()
	release2, err := l.Acquire(ctx, key)
	require.NoError(t, err)
	release2()
}

func TestRedisLockerKeysAreIndependent(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx := context.Background()

	r1, err := l.Acquire(ctx, ProductKey("prd_1"))
	require.NoError(t, err)
	defer r1()
	r2, err := l.Acquire(ctx, ProductKey("prd_2"))
	require.NoError(t, err)
	defer r2()
}

func TestRedisLockerReportsUnavailableBackend(t *testing.T) {
	l, mr := newTestLocker(t)
	mr.Close()

	_, err := l.Acquire(context.Background(), ProductKey("prd_1"))
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestNoopLocker(t *testing.T) {
	release, err := NoopLocker{}.Acquire(context.Background(), "anything")
	require.NoError(t, err)
	require.NotNil(t, release)
	release()
}
