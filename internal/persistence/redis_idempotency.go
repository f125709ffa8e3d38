package persistence

import (
	"context"
	"fmt"
	"time"

	"StableLedger/internal/core"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "stable:idem:"

// RedisIdempotencyChecker is a dedup index that outlives the process. The
// persistence worker marks keys after each durable flush, so a restarted
// ledger recognizes redelivered requests beyond the LRU without a log
// lookup. It is not a coordination point between writers; the ledger has
// exactly one.
type RedisIdempotencyChecker struct {
	client  redis.UniversalClient
	ttl     time.Duration
	timeout time.Duration
}

func NewRedisIdempotencyChecker(client redis.UniversalClient, ttl time.Duration) *RedisIdempotencyChecker {
	return &RedisIdempotencyChecker{
		client:  client,
		ttl:     ttl,
		timeout: defaultLookupTimeout,
	}
}

// ConnectRedis opens a client and verifies it with a ping.
func ConnectRedis(addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return rdb, nil
}

func redisKey(eventType, idempotencyKey string) string {
	return redisKeyPrefix + core.CompositeKey(eventType, idempotencyKey)
}

// IsDuplicate reports whether the key has been marked.
func (r *RedisIdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	n, err := r.client.Exists(ctx, redisKey(eventType, idempotencyKey)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkPersisted records every event of a committed batch in one pipeline.
func (r *RedisIdempotencyChecker) MarkPersisted(ctx context.Context, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, e := range events {
		pipe.Set(ctx, redisKey(e.EventType, e.IdempotencyKey), e.Sequence, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Ping checks connectivity for readiness probes.
func (r *RedisIdempotencyChecker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
