package queue

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"listsync/config"
)

const drainLeaseKey = "listsync:queue:drain"

// releaseScript deletes the lease only if this holder's token is still the
// stored value. A plain DEL would let a holder whose lease expired mid-run
// drop the key out from under the current holder, reopening the
// concurrent-drain window.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLease is a best-effort mutual-exclusion lease around queue drains.
// The timestamp throttle alone cannot stop two overlapping scheduler
// triggers from double-claiming the same rows; SETNX with an expiry can.
// The expiry bounds the damage of a crashed holder.
type RedisLease struct {
	client *redis.Client
	ttl    time.Duration
	token  string // set on successful acquire, identifies this holder
}

func NewRedisLease(cfg config.RedisConfig, ttl time.Duration) *RedisLease {
	return &RedisLease{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl: ttl,
	}
}

// NewRedisLeaseWithClient is used by tests to point the lease at miniredis.
func NewRedisLeaseWithClient(client *redis.Client, ttl time.Duration) *RedisLease {
	return &RedisLease{client: client, ttl: ttl}
}

func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, drainLeaseKey, token, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Release is a compare-and-delete: a stale holder whose lease already
// expired (and was re-acquired by another) releases nothing.
func (l *RedisLease) Release(ctx context.Context) {
	releaseScript.Run(ctx, l.client, []string{drainLeaseKey}, l.token)
}
