package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore 基于 Redis 的工作流存储
// 不设置 TTL，持久性依赖 Redis 的持久化配置
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore 创建 Redis 存储
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Save 保存工作流
func (s *RedisStore) Save(ctx context.Context, id string, data []byte) error {
	if err := s.client.Set(ctx, s.key(id), data, 0).Err(); err != nil {
		return fmt.Errorf("保存工作流失败: %w", err)
	}
	return nil
}

// Load 读取工作流
func (s *RedisStore) Load(ctx context.Context, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("读取工作流失败: %w", err)
	}
	return data, nil
}

func (s *RedisStore) key(id string) string {
	return "pipeline:workflow:" + id
}
