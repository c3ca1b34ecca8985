// blog/cache.go
package blog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PageCache stores rendered pages under a key for a short fixed interval.
// It sits entirely outside the data layer: a hit means the store and the
// templates are never touched.
type PageCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, page []byte) error
}

// RedisCache backs the page cache with Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr, password string, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	page, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return page, true
}

func (c *RedisCache) Set(ctx context.Context, key string, page []byte) error {
	return c.client.Set(ctx, key, page, c.ttl).Err()
}

// MemoryCache is the in-process fallback used when no Redis address is
// configured, and by tests. Expired entries are dropped lazily on read.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

type memoryEntry struct {
	page    []byte
	expires time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.page, true
}

func (c *MemoryCache) Set(_ context.Context, key string, page []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{page: page, expires: time.Now().Add(c.ttl)}
	return nil
}
