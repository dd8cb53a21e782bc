package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var lockReleaseScript = redis.NewScript(`
-- KEYS[1] = lock key
-- ARGV[1] = holder token
-- Delete only if we still hold the lock.
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker implements Locker on a shared Redis, so the single-run
// guarantee holds across engine replicas.
//
// Safety properties:
// - Atomic acquire via SET NX PX.
// - TTL prevents a leaked lock on process crash.
// - Release is compare-and-delete, so an expired holder cannot release a
//   successor's lock.
type RedisLocker struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb, prefix: "dialer:lock:"}
}

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	if l.rdb == nil {
		return nil, false, fmt.Errorf("redis client is nil")
	}
	if name == "" {
		return nil, false, fmt.Errorf("lock name is required")
	}
	if ttl <= 0 {
		return nil, false, fmt.Errorf("ttl must be > 0")
	}

	key := l.prefix + name
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		_, _ = lockReleaseScript.Run(context.WithoutCancel(ctx), l.rdb, []string{key}, token).Result()
	}
	return release, true, nil
}
