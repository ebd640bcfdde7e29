package openai

import (
	"go.uber.org/zap"

	"github.com/mekai/workforce/llm/providers"
	"github.com/mekai/workforce/llm/providers/openaicompat"
)

// OpenAIProvider 实现 OpenAI LLM 提供者.
type OpenAIProvider struct {
	*openaicompat.Provider
}

// NewOpenAIProvider 创建新的 OpenAI 提供者实例.
func NewOpenAIProvider(cfg providers.OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}

	return &OpenAIProvider{
		Provider: openaicompat.New(openaicompat.Config{
			ProviderName:  "openai",
			APIKey:        cfg.APIKey,
			BaseURL:       cfg.BaseURL,
			DefaultModel:  cfg.Model,
			FallbackModel: "gpt-4o-mini",
			Timeout:       cfg.Timeout,
		}, logger),
	}
}
