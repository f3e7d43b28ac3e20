package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultKeyPrefix はキーの衝突を避けるための接頭辞。
const defaultKeyPrefix = "fbconnect:"

// RedisCache はRedisを使うCache実装。
// 複数のAPIサーバー間でスナップショットを共有する。
type RedisCache struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisCache はRedis URLから接続を確立してRedisCacheを生成する。
func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, defaultKeyPrefix), nil
}

// NewRedisCacheWithClient は構成済みのクライアントからRedisCacheを生成する。
func NewRedisCacheWithClient(client redis.UniversalClient, keyPrefix string) *RedisCache {
	return &RedisCache{client: client, keyPrefix: keyPrefix}
}

// Get はキーに対応する値を返す。
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return data, true, nil
}

// Set は値をttlの期間だけ保持する。ttlが0以下の場合は何もしない。
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, c.keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// Close は接続を閉じる。
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// compile-time interface check
var _ Cache = (*RedisCache)(nil)
