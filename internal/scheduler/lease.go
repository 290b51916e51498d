package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease is a cross-replica mutual exclusion for scans. The in-process guard
// covers one replica; a Lease extends it to every replica sharing the ledger.
type Lease interface {
	// Acquire takes the lease. ok is false when another holder has it.
	Acquire(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

// releaseScript deletes the key only when it still holds our token, so an
// expired lease re-taken by another replica is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease implements Lease with SET NX PX.
type RedisLease struct {
	client redisLeaseClient
	key    string
	ttl    time.Duration
}

// redisLeaseClient is the subset of the go-redis client used by RedisLease.
type redisLeaseClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// NewRedisClient connects to Redis at addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// NewRedisLease creates a lease stored at key. ttl bounds how long a crashed
// holder blocks other replicas and must exceed the longest expected scan.
func NewRedisLease(client redisLeaseClient, key string, ttl time.Duration) *RedisLease {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisLease{client: client, key: key, ttl: ttl}
}

// Acquire implements Lease.
func (l *RedisLease) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lease acquire: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("redis lease release: %w", err)
		}
		return nil
	}
	return release, true, nil
}
