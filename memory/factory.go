package memory

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StoreConfig 是会话存储的工厂配置
type StoreConfig struct {
	// Type 是存储后端类型: memory / gorm / redis
	Type StoreType `json:"type" yaml:"type"`

	// MaxHistory 是每会话保留的非 system 消息上限
	MaxHistory int `json:"max_history" yaml:"max_history"`

	// Redis 配置（仅当 Type 为 redis 时使用）
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`
}

// NewStore 根据配置创建会话存储。gorm 后端需要调用方传入已连接的 *gorm.DB。
func NewStore(cfg StoreConfig, db *gorm.DB, logger *zap.Logger) (Store, error) {
	switch cfg.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(cfg.MaxHistory), nil
	case StoreTypeGorm:
		if db == nil {
			return nil, fmt.Errorf("gorm conversation store requires a database connection")
		}
		return NewGormStore(db, cfg.MaxHistory, logger)
	case StoreTypeRedis:
		return NewRedisStore(cfg.Redis, cfg.MaxHistory, logger)
	default:
		return nil, fmt.Errorf("unsupported conversation store type: %s", cfg.Type)
	}
}
