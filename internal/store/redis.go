package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sweeney/coldwatch/internal/logic"
)

// RedisConfig addresses the Redis instance.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // prepended to Key, e.g. "coldwatch:"
}

// RedisStore keeps thresholds in Redis under Prefix+Key with no expiry.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return NewRedisStoreWithClient(client, cfg.Prefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, key: prefix + Key}
}

// Load reads the thresholds key.
func (r *RedisStore) Load(ctx context.Context) (logic.Thresholds, bool, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return logic.Thresholds{}, false, nil
	}
	if err != nil {
		return logic.Thresholds{}, false, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	t, err := decode(data)
	if err != nil {
		return logic.Thresholds{}, false, err
	}
	return t, true, nil
}

// Save writes the thresholds key.
func (r *RedisStore) Save(ctx context.Context, t logic.Thresholds) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode thresholds: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
