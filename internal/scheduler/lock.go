package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock elects a single leader among scheduler replicas. Acquire is called
// once per tick and either takes or extends the lease.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// redisClient is the subset of *redis.Client used by RedisLock.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	PExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// RedisLockOpts holds parameters for creating a RedisLock.
type RedisLockOpts struct {
	Client redisClient
	Key    string
	TTL    time.Duration
	Token  string // optional, defaults to a random uuid
}

// RedisLock is a lease held with SET NX PX. The holder renews it on every
// tick; if the holder dies the key expires after TTL.
type RedisLock struct {
	client redisClient
	key    string
	ttl    time.Duration
	token  string
}

// NewRedisLock creates a RedisLock.
func NewRedisLock(opts RedisLockOpts) (*RedisLock, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("scheduler: redis client is required")
	}
	if opts.Key == "" {
		return nil, fmt.Errorf("scheduler: lock key is required")
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("scheduler: lock ttl must be positive")
	}
	if opts.Token == "" {
		opts.Token = uuid.NewString()
	}
	return &RedisLock{client: opts.Client, key: opts.Key, ttl: opts.TTL, token: opts.Token}, nil
}

// Acquire takes the lease if free, or extends it if we already hold it.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("scheduler: lock setnx: %w", err)
	}
	if ok {
		return true, nil
	}

	holder, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("scheduler: lock get: %w", err)
	}
	if holder != l.token {
		return false, nil
	}
	if err := l.client.PExpire(ctx, l.key, l.ttl).Err(); err != nil {
		return false, fmt.Errorf("scheduler: lock renew: %w", err)
	}
	return true, nil
}

// Release drops the lease if we hold it.
func (l *RedisLock) Release(ctx context.Context) error {
	if err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("scheduler: lock release: %w", err)
	}
	return nil
}
