package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"optica/backend/internal/domain"
)

type RedisFolioConfigCache struct {
	client *redis.Client
	key    string
}

func NewRedisFolioConfigCache(addr string, password string, db int) *RedisFolioConfigCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisFolioConfigCache{client: client, key: folioConfigKey}
}

func (c *RedisFolioConfigCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisFolioConfigCache) Close() error {
	return c.client.Close()
}

func (c *RedisFolioConfigCache) Get(ctx context.Context) (*domain.FolioConfig, bool, error) {
	val, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var cfg domain.FolioConfig
	if err := json.Unmarshal(val, &cfg); err != nil {
		return nil, false, err
	}
	return &cfg, true, nil
}

func (c *RedisFolioConfigCache) Set(ctx context.Context, value *domain.FolioConfig, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key, payload, ttl).Err()
}

func (c *RedisFolioConfigCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}
