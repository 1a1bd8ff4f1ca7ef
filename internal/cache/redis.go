package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"jensengpt/internal/config"
)

// scanBatch 每次 SCAN 返回的建议数量
const scanBatch = 100

// RedisCache 基于 Redis 的缓存
// 所有 Key 加上配置的前缀，多个服务共用一个实例时互不干扰
type RedisCache struct {
	client *redis.Client // Redis 客户端实例
	prefix string
}

// NewRedisCache 创建 RedisCache 实例
// 参数:
//   - cfg: Redis 连接配置
//
// 返回:
//   - *RedisCache: 缓存实例
//   - error: 连接错误
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, cfg.Prefix), nil
}

// NewRedisCacheWithClient 使用已有客户端创建 RedisCache
func NewRedisCacheWithClient(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Get 读取缓存
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("redis cache get failed")
		return nil, false
	}
	return data, true
}

// Set 写入缓存，过期由 Redis 负责
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		log.WithError(err).WithField("key", key).Warn("redis cache set failed")
	}
}

// Invalidate 删除所有以 prefix 开头的 Key
// 使用 SCAN 增量遍历，避免 KEYS 阻塞实例
func (c *RedisCache) Invalidate(ctx context.Context, prefix string) {
	pattern := escapeGlob(c.prefix+prefix) + "*"

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			log.WithError(err).WithField("prefix", prefix).Warn("redis cache scan failed")
			return
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				log.WithError(err).WithField("prefix", prefix).Warn("redis cache delete failed")
				return
			}
		}
		if next == 0 {
			return
		}
		cursor = next
	}
}

// Ping 检查 Redis 连接
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// escapeGlob 转义 SCAN MATCH 模式中的特殊字符
func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
