// Package backend 根据配置选择并创建存储后端。
package backend

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tylaig/msatempmail/internal/config"
	"github.com/tylaig/msatempmail/internal/storage"
	"github.com/tylaig/msatempmail/internal/storage/memory"
	"github.com/tylaig/msatempmail/internal/storage/redis"
)

// Open 创建配置指定的后端。内存后端只在单进程内有效，仅用于开发环境。
func Open(cfg *config.Config, log *zap.Logger) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		log.Warn("using memory storage (development mode)")
		return memory.NewStore(), nil
	case config.StorageRedis, "":
		client, err := redis.New(cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
