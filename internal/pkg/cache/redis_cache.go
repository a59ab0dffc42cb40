package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var ErrCacheMiss error = errors.New("缓存未命中,key不存在")

type RedisCache struct {
	client *redis.Client
}

var _ Cache = (*RedisCache)(nil)

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Client 返回底层 redis 客户端，供 Stream 消费者使用
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

func (r *RedisCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		logger.Error("Failed to marshal cache value", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("序列化缓存值失败: %w", err)
	}

	err = r.client.Set(ctx, key, data, expiration).Err()
	if err != nil {
		logger.Error("Failed to set value in Redis", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("写入 Redis 失败: %w", err)
	}
	return nil
}

func (r *RedisCache) Get(ctx context.Context, key string, target any) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return ErrCacheMiss
		}
		logger.Error("Failed to get value from Redis", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("从 Redis 读取失败: %w", err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		logger.Error("Failed to unmarshal cached value", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("反序列化缓存值失败: %w", err)
	}
	return nil
}

func (r *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := r.client.Del(ctx, keys...).Err()
	if err != nil {
		logger.Error("Failed to delete keys from Redis", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("从 Redis 删除键失败: %w", err)
	}
	return nil
}

func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		logger.Error("Failed to check key existence in Redis", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("检查 Redis 键存在性失败: %w", err)
	}
	return count > 0, nil
}

func (r *RedisCache) HSet(ctx context.Context, key string, field string, value any) error {
	err := r.client.HSet(ctx, key, field, value).Err()
	if err != nil {
		logger.Error("Failed to HSet field in Redis", zap.String("key", key), zap.String("field", field), zap.Error(err))
		return fmt.Errorf("HSet 操作失败: %w", err)
	}
	return nil
}

// HMSet 设置key的多个field
// go-redis/v8中HMSet已经被弃用,选择HSet配合map实现
func (r *RedisCache) HMSet(ctx context.Context, key string, fields map[string]any) error {
	err := r.client.HSet(ctx, key, fields).Err()
	if err != nil {
		logger.Error("Failed to HMSet fields in Redis", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("HMSet 操作失败: %w", err)
	}
	return nil
}

func (r *RedisCache) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	resultMap, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		logger.Error("Failed to HGetAll from Redis", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("HGetAll 操作失败: %w", err)
	}
	// key 不存在时 HGetAll 返回空 map 而不是 redis.Nil
	if len(resultMap) == 0 {
		return nil, ErrCacheMiss
	}
	return resultMap, nil
}

func (r *RedisCache) Expire(ctx context.Context, key string, expiration time.Duration) error {
	err := r.client.Expire(ctx, key, expiration).Err()
	if err != nil {
		logger.Error("Failed to set expiration for key in Redis", zap.String("key", key), zap.Duration("expiration", expiration), zap.Error(err))
		return fmt.Errorf("设置键过期时间失败: %w", err)
	}
	return nil
}

func (r *RedisCache) XAdd(ctx context.Context, a *redis.XAddArgs) (string, error) {
	id, err := r.client.XAdd(ctx, a).Result()
	if err != nil {
		return "", fmt.Errorf("XAdd 操作失败: %w", err)
	}
	return id, nil
}
