package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedProvider puts a Redis read-through cache in front of a primary
// Provider. Quotes written to Redis by an external feed (see Put) are served
// without touching the primary; misses fall back to it and are cached for
// ttl.
type CachedProvider struct {
	primary Provider
	rdb     redis.UniversalClient
	ttl     time.Duration
	prefix  string
}

func NewCachedProvider(primary Provider, rdb redis.UniversalClient, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		prefix:  "papertrade:quote:",
	}
}

func (c *CachedProvider) Connect(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return c.primary.Connect(ctx)
}

func (c *CachedProvider) Close() error {
	perr := c.primary.Close()
	if err := c.rdb.Close(); err != nil {
		return err
	}
	return perr
}

// --- Read-through ---

func (c *CachedProvider) Quote(ctx context.Context, symbol string) (Quote, error) {
	data, err := c.rdb.Get(ctx, c.key(symbol)).Bytes()
	if err == nil {
		var q Quote
		if json.Unmarshal(data, &q) == nil {
			return q, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return Quote{}, fmt.Errorf("redis get %s: %w", symbol, err)
	}

	q, err := c.primary.Quote(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}
	c.cache(ctx, q, c.ttl)
	return q, nil
}

func (c *CachedProvider) Ticks(ctx context.Context, symbol string, day time.Time) ([]Tick, error) {
	return c.primary.Ticks(ctx, symbol, day)
}

// --- Write ---

// Put stores q in Redis. A zero ttl keeps it until overwritten.
func (c *CachedProvider) Put(ctx context.Context, q Quote, ttl time.Duration) error {
	data, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(q.Symbol), data, ttl).Err()
}

// Invalidate drops the cached quote for symbol.
func (c *CachedProvider) Invalidate(ctx context.Context, symbol string) error {
	return c.rdb.Del(ctx, c.key(symbol)).Err()
}

func (c *CachedProvider) cache(ctx context.Context, q Quote, ttl time.Duration) {
	if data, err := json.Marshal(q); err == nil {
		c.rdb.Set(ctx, c.key(q.Symbol), data, ttl)
	}
}

func (c *CachedProvider) key(symbol string) string {
	return c.prefix + symbol
}
