package store

import (
	"context"
	"errors"
)

// ErrNotFound 指定 ID 的工作流不存在
var ErrNotFound = errors.New("工作流记录不存在")

// Store 工作流持久化边界
// 以工作流 ID 为键保存序列化聚合，要求 Load(Save(w)) 无损往返
type Store interface {
	Save(ctx context.Context, id string, data []byte) error
	Load(ctx context.Context, id string) ([]byte, error)
}
