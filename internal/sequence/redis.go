package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Seeder reports the highest sequence already issued for a day prefix, so a fresh Redis
// key continues after numbers persisted before the counter existed.
type Seeder interface {
	HighestSuffix(ctx context.Context, tag, prefix string) (int64, error)
}

// RedisAllocator issues numbers with INCR on a per-day key.
type RedisAllocator struct {
	client *redis.Client
	seeder Seeder
	ttl    time.Duration
}

// NewRedisAllocator constructs the allocator. seeder may be nil.
func NewRedisAllocator(client *redis.Client, seeder Seeder) *RedisAllocator {
	return &RedisAllocator{client: client, seeder: seeder, ttl: 48 * time.Hour}
}

func redisKey(prefix string) string {
	return "storekeep:seq:" + prefix
}

// Next implements Allocator.
func (a *RedisAllocator) Next(ctx context.Context, tag string, at time.Time) (string, error) {
	if tag == "" {
		return "", errors.New("sequence: tag required")
	}
	prefix := DayPrefix(tag, at)
	key := redisKey(prefix)

	if a.seeder != nil {
		exists, err := a.client.Exists(ctx, key).Result()
		if err != nil {
			return "", fmt.Errorf("sequence: exists %s: %w", key, err)
		}
		if exists == 0 {
			highest, err := a.seeder.HighestSuffix(ctx, tag, prefix)
			if err != nil {
				return "", fmt.Errorf("sequence: seed %s: %w", prefix, err)
			}
			// SETNX keeps the first seed when several allocators race on a new day.
			if err := a.client.SetNX(ctx, key, highest, a.ttl).Err(); err != nil {
				return "", fmt.Errorf("sequence: seed %s: %w", key, err)
			}
		}
	}

	pipe := a.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, a.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("sequence: incr %s: %w", key, err)
	}
	return Format(tag, at, incr.Val()), nil
}
