package providers

import "time"

// 各 Provider 的配置结构，由工厂根据 provider 名称填充。

// DeepSeekConfig 是 DeepSeek 提供者配置.
type DeepSeekConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIConfig 是 OpenAI 提供者配置.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}
