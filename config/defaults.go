// =============================================================================
// 📦 Workforce 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:   DefaultServerConfig(),
		Chat:     DefaultChatConfig(),
		LLM:      DefaultLLMConfig(),
		Memory:   DefaultMemoryConfig(),
		Database: DefaultDatabaseConfig(),
		Redis:    DefaultRedisConfig(),
		Log:      DefaultLogConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		RateLimit:       0,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultChatConfig 返回默认对话编排配置
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		MaxToolIterations: 3,
		RetrievalPolicy:   "auto",
		HistoryLimit:      10,
		MaxHistory:        20,
		MaxMessageLength:  4000,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		DefaultProvider: "deepseek",
		Providers: map[string]ProviderConfig{
			"deepseek": {Model: "deepseek-chat"},
			"openai":   {Model: "gpt-4o-mini"},
		},
		Timeout:    60 * time.Second,
		MaxRetries: 3,
	}
}

// DefaultMemoryConfig 返回默认会话存储配置
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{Type: "memory"}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "workforce",
		Password:        "",
		Name:            "workforce",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		PoolSize:  10,
		KeyPrefix: "workforce:",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}
