package usage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rdk-i/Rflix-User-Center-sub000/internal/models"
)

// CacheBackend is a key/value store with per-entry TTL.
type CacheBackend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type memoryEntry struct {
	value      string
	insertedAt time.Time
	ttl        time.Duration
}

// MemoryBackend is an in-process cache backend.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryBackend creates an empty in-process cache.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns the cached value if present and fresh.
func (m *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if entry.ttl > 0 && m.now().Sub(entry.insertedAt) >= entry.ttl {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set stores a value with a TTL.
func (m *MemoryBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, insertedAt: m.now(), ttl: ttl}
	return nil
}

// RedisBackend stores cache entries in Redis, sharing the hot tier-limit
// lookups across processes.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend creates a redis-backed cache against addr.
func NewRedisBackend(addr string) *RedisBackend {
	return &RedisBackend{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// Get returns the cached value if present.
func (r *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

// Set stores a value with a TTL.
func (r *RedisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// TierCache caches tier-limit lookups with an explicit get-or-recompute
// contract so stale reference data is refreshed on a fixed cadence rather
// than through ad-hoc shared maps.
type TierCache struct {
	backend CacheBackend
	ttl     time.Duration
	fetch   func(ctx context.Context, tierID string) (models.TierLimits, error)
}

// NewTierCache wraps a fetch function with TTL caching.
func NewTierCache(backend CacheBackend, ttl time.Duration, fetch func(ctx context.Context, tierID string) (models.TierLimits, error)) *TierCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TierCache{backend: backend, ttl: ttl, fetch: fetch}
}

// Get returns the tier limits, recomputing from the fetch function when the
// cached entry is missing or stale. Cache errors fall through to the fetch.
func (c *TierCache) Get(ctx context.Context, tierID string) (models.TierLimits, error) {
	key := "tier:" + tierID

	if raw, ok, err := c.backend.Get(ctx, key); err == nil && ok {
		var t models.TierLimits
		if err := json.Unmarshal([]byte(raw), &t); err == nil {
			return t, nil
		}
	}

	t, err := c.fetch(ctx, tierID)
	if err != nil {
		return models.TierLimits{}, err
	}

	if raw, err := json.Marshal(t); err == nil {
		_ = c.backend.Set(ctx, key, string(raw), c.ttl)
	}
	return t, nil
}
