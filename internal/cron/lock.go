package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/mealrun-backend/pkg/instance"
)

// Lock coordinates exclusive cron cycles across replicas.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLock is a SETNX lock with an owner token. The TTL bounds how long a
// crashed worker can block the next cycle.
type RedisLock struct {
	client lockStore
	key    string
	ttl    time.Duration
	owner  string
	holder string
}

// NewRedisLock builds a lock on key. A non-positive ttl falls back to twice
// the default cycle interval.
func NewRedisLock(client lockStore, key string, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = 2 * defaultInterval
	}
	return &RedisLock{client: client, key: key, ttl: ttl, holder: instance.GetID()}, nil
}

// LockTTL sizes the cycle lock so one slow cycle cannot overlap the next
// while a dead holder still frees up within a few ticks.
func LockTTL(interval, jobTimeout time.Duration) time.Duration {
	if interval <= 0 {
		interval = defaultInterval
	}
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	if jobTimeout > interval {
		return jobTimeout + interval
	}
	return 2 * interval
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := l.holder + ":" + uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", l.key, err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Holder returns the value currently stored in the lock key.
func (l *RedisLock) Holder(ctx context.Context) (string, error) {
	value, err := l.client.Get(ctx, l.key)
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

// Release deletes the key only while this instance still owns it.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	owner := l.owner
	l.owner = ""
	value, err := l.client.Get(ctx, l.key)
	switch {
	case errors.Is(err, redis.Nil):
		return nil
	case err != nil:
		return fmt.Errorf("read lock owner: %w", err)
	case value != owner:
		return nil
	}
	if err := l.client.Del(ctx, l.key); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	return nil
}
