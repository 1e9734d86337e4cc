package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tokosamanda/backend/internal/domain"
)

const (
	generationKey   = "ledger:generation"
	stockReportKeyf = "stock-report:%d"
)

type RedisStockReportCache struct {
	client *redis.Client
}

func NewRedisStockReportCache(addr string, password string, db int) *RedisStockReportCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStockReportCache{client: client}
}

// NewRedisStockReportCacheFromClient wraps an existing client.
func NewRedisStockReportCacheFromClient(client *redis.Client) *RedisStockReportCache {
	return &RedisStockReportCache{client: client}
}

func (c *RedisStockReportCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStockReportCache) Close() error {
	return c.client.Close()
}

func (c *RedisStockReportCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

func (c *RedisStockReportCache) Bump(ctx context.Context) error {
	return c.client.Incr(ctx, generationKey).Err()
}

func (c *RedisStockReportCache) Get(ctx context.Context, generation int64) (*domain.StockReport, bool, error) {
	val, err := c.client.Get(ctx, fmt.Sprintf(stockReportKeyf, generation)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var report domain.StockReport
	if err := json.Unmarshal([]byte(val), &report); err != nil {
		return nil, false, err
	}
	return &report, true, nil
}

func (c *RedisStockReportCache) Set(ctx context.Context, generation int64, value *domain.StockReport, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, fmt.Sprintf(stockReportKeyf, generation), payload, ttl).Err()
}
