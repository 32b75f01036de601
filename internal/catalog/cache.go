package catalog

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Lookup kinds cached by LookupCache.
const (
	lookupSKU     = "sku"
	lookupBarcode = "barcode"
)

// LookupCache memoises SKU and barcode to product id resolution in Redis. Only the
// identity mapping is cached; product records (and their stock) are always read fresh.
type LookupCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewLookupCache constructs the cache.
func NewLookupCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *LookupCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LookupCache{client: client, ttl: ttl, logger: logger}
}

func lookupKey(kind, value string) string {
	return "storekeep:catalog:" + kind + ":" + value
}

// ProductID returns the cached id for kind/value, calling load on a miss. Concurrent
// misses for the same key share one load.
func (c *LookupCache) ProductID(ctx context.Context, kind, value string, load func(context.Context) (int64, error)) (int64, error) {
	if c == nil || c.client == nil {
		return load(ctx)
	}
	key := lookupKey(kind, value)
	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if id, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			return id, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("catalog cache get", slog.String("key", key), slog.Any("error", err))
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		id, err := load(ctx)
		if err != nil {
			return int64(0), err
		}
		if err := c.client.Set(ctx, key, id, c.ttl).Err(); err != nil {
			c.logger.Warn("catalog cache set", slog.String("key", key), slog.Any("error", err))
		}
		return id, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// Forget drops cached lookups for kind/value.
func (c *LookupCache) Forget(ctx context.Context, kind, value string) {
	if c == nil || c.client == nil || value == "" {
		return
	}
	if err := c.client.Del(ctx, lookupKey(kind, value)).Err(); err != nil {
		c.logger.Warn("catalog cache del", slog.String("kind", kind), slog.Any("error", err))
	}
}
