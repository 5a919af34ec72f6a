package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"stockbook/backend/internal/domain"
)

const dashboardKeyPrefix = "stockbook:dashboard:"

type RedisDashboardCache struct {
	client *redis.Client
}

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisDashboardCache(client *redis.Client) *RedisDashboardCache {
	return &RedisDashboardCache{client: client}
}

func (c *RedisDashboardCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisDashboardCache) Get(ctx context.Context, userID string) (*domain.DashboardSummary, bool, error) {
	val, err := c.client.Get(ctx, dashboardKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var summary domain.DashboardSummary
	if err := json.Unmarshal([]byte(val), &summary); err != nil {
		return nil, false, err
	}
	return &summary, true, nil
}

func (c *RedisDashboardCache) Set(ctx context.Context, userID string, value *domain.DashboardSummary, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, dashboardKey(userID), payload, ttl).Err()
}

func (c *RedisDashboardCache) Delete(ctx context.Context, userID string) error {
	return c.client.Del(ctx, dashboardKey(userID)).Err()
}

func dashboardKey(userID string) string {
	return dashboardKeyPrefix + userID
}
