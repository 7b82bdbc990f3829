package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Cache abstracts the key/value operations used by the use case to make testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return value, err
}

// Delete removes key; a missing key is not an error.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache keeps up to size entries in process, evicting the least
// recently used. It stands in for Redis when no address is configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, memoryEntry]
	now     func() time.Time
}

// NewMemoryCache returns an in-process cache holding at most size entries.
func NewMemoryCache(size int) (*MemoryCache, error) {
	entries, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{entries: entries, now: time.Now}, nil
}

// Set stores value; a zero expiration never expires.
func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry := memoryEntry{value: stringify(value)}
	if expiration > 0 {
		entry.expiresAt = c.now().Add(expiration)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, entry)
	return nil
}

// Get returns the stored value or ErrCacheMiss.
func (c *MemoryCache) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries.Get(key)
	if !ok {
		return "", ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		c.entries.Remove(key)
		return "", ErrCacheMiss
	}
	return entry.value, nil
}

// Delete removes key if present.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(key)
	return nil
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
