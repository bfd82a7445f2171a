package aggregate

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/metal-toolbox/pms/internal/app"
	"github.com/pkg/errors"
)

var (
	// ErrCacheMiss is returned when no statistics are cached under the key.
	ErrCacheMiss = errors.New("cache miss")
	ErrCache     = errors.New("stats cache error")
)

// Cache holds computed dashboard statistics by key.
type Cache interface {
	Get(ctx context.Context, key string) (*Stats, error)
	Set(ctx context.Context, key string, stats *Stats) error
	Kind() string
}

// MemCache keeps the most recently computed statistics in process.
type MemCache struct {
	mu    sync.Mutex
	key   string
	stats *Stats
}

func NewMemCache() *MemCache {
	return &MemCache{}
}

func (m *MemCache) Get(_ context.Context, key string) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stats == nil || m.key != key {
		return nil, ErrCacheMiss
	}

	return m.stats.copy(), nil
}

func (m *MemCache) Set(_ context.Context, key string, stats *Stats) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.key = key
	m.stats = stats.copy()

	return nil
}

func (m *MemCache) Kind() string { return "memory" }

// RedisCache shares computed statistics between server instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache returns a cache on the configured redis server.
func NewRedisCache(opts *app.RedisOptions) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	return NewRedisCacheFromClient(client, opts.TTL)
}

func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = app.DefaultRedisTTL
	}

	return &RedisCache{client: client, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, key string) (*Stats, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}

		return nil, errors.Wrap(ErrCache, err.Error())
	}

	stats := &Stats{}
	if err := json.Unmarshal(val, stats); err != nil {
		return nil, errors.Wrap(ErrCache, err.Error())
	}

	return stats, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, stats *Stats) error {
	val, err := json.Marshal(stats)
	if err != nil {
		return errors.Wrap(ErrCache, err.Error())
	}

	if err := r.client.Set(ctx, key, val, r.ttl).Err(); err != nil {
		return errors.Wrap(ErrCache, err.Error())
	}

	return nil
}

func (r *RedisCache) Kind() string { return "redis" }

func (r *RedisCache) Close() error {
	return r.client.Close()
}
