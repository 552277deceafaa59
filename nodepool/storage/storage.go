package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"nodesync/internal/shared/types"
)

var (
	// ErrNotFound 表示键不存在。
	ErrNotFound = errors.New("storage: key not found")
	// ErrClosed 表示存储已关闭。
	ErrClosed = errors.New("storage: store is closed")
)

// Store 是节点列表持久化所需的 KV 接口。更新流程只调用 Put；
// Get 供状态接口与测试读取当前值。
type Store interface {
	Put(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
	Close() error
}

// Open 根据配置选择存储后端。
func Open(ctx context.Context, cfg types.StoreConf) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "badger":
		return NewBadgerStore(cfg.Path)
	case "file":
		return NewFileStore(cfg.Path), nil
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
