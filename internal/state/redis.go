package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lendkey/accessbot/internal/config"
)

// RedisStore keeps counter state in a single redis key.
type RedisStore struct {
	client redis.Cmdable
	key    string
}

// NewRedisClient connects to redis using cfg and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = time.Duration(cfg.DialTimeout) * time.Second
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// NewRedisStore creates a redis-backed counter store under key.
func NewRedisStore(client redis.Cmdable, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// LoadCounters reads counter state; a missing key is empty state.
func (s *RedisStore) LoadCounters(ctx context.Context) (CounterState, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return emptyCounters(), nil
		}
		return CounterState{}, fmt.Errorf("read counter state from redis: %w", err)
	}

	var st CounterState
	if err := json.Unmarshal(raw, &st); err != nil {
		return emptyCounters(), nil
	}
	return normalizeCounters(st), nil
}

// SaveCounters overwrites the counter state key.
func (s *RedisStore) SaveCounters(ctx context.Context, st CounterState) error {
	encoded, err := json.Marshal(normalizeCounters(st))
	if err != nil {
		return fmt.Errorf("marshal counter state: %w", err)
	}
	if err := s.client.Set(ctx, s.key, encoded, 0).Err(); err != nil {
		return fmt.Errorf("write counter state to redis: %w", err)
	}
	return nil
}
