package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis keeps a single key in memory.
type fakeRedis struct {
	value   string
	set     bool
	ttl     time.Duration
	renewed int
	err     error
}

func (f *fakeRedis) SetNX(_ context.Context, _ string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if f.set {
		return redis.NewBoolResult(false, nil)
	}
	f.value, f.set, f.ttl = value.(string), true, ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(context.Context, string) *redis.StringCmd {
	if !f.set {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(f.value, nil)
}

func (f *fakeRedis) PExpire(_ context.Context, _ string, ttl time.Duration) *redis.BoolCmd {
	f.renewed++
	f.ttl = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, _ []string, args ...interface{}) *redis.Cmd {
	if f.set && f.value == args[0].(string) {
		f.set = false
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestNewRedisLock_Validation(t *testing.T) {
	_, err := NewRedisLock(RedisLockOpts{Key: "k", TTL: time.Second})
	assert.EqualError(t, err, "scheduler: redis client is required")
	_, err = NewRedisLock(RedisLockOpts{Client: &fakeRedis{}, TTL: time.Second})
	assert.EqualError(t, err, "scheduler: lock key is required")
	_, err = NewRedisLock(RedisLockOpts{Client: &fakeRedis{}, Key: "k"})
	assert.EqualError(t, err, "scheduler: lock ttl must be positive")
}

func TestRedisLock_LeaderElection(t *testing.T) {
	ctx := context.Background()
	rdb := &fakeRedis{}
	a, err := NewRedisLock(RedisLockOpts{Client: rdb, Key: "leader", TTL: time.Minute, Token: "a"})
	require.NoError(t, err)
	b, err := NewRedisLock(RedisLockOpts{Client: rdb, Key: "leader", TTL: time.Minute, Token: "b"})
	require.NoError(t, err)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, rdb.ttl)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second replica must not lead")

	// The holder renews on every tick.
	ok, err = a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, rdb.renewed)

	// Releasing with the wrong token is a no-op.
	require.NoError(t, b.Release(ctx))
	assert.True(t, rdb.set)

	require.NoError(t, a.Release(ctx))
	assert.False(t, rdb.set)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_Error(t *testing.T) {
	l, err := NewRedisLock(RedisLockOpts{Client: &fakeRedis{err: errors.New("conn refused")}, Key: "k", TTL: time.Second})
	require.NoError(t, err)
	ok, err := l.Acquire(context.Background())
	assert.False(t, ok)
	assert.ErrorContains(t, err, "conn refused")
}
