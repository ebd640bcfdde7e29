// Package factory provides a centralized factory for creating LLM Provider
// instances by name. It imports all provider sub-packages and maps string
// names to their constructors, breaking the import cycle that would occur
// if this logic lived in the llm package directly.
package factory

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mekai/workforce/llm"
	"github.com/mekai/workforce/llm/providers"
	"github.com/mekai/workforce/llm/providers/deepseek"
	"github.com/mekai/workforce/llm/providers/openai"
	"github.com/mekai/workforce/llm/providers/openaicompat"
	"github.com/mekai/workforce/types"
)

// DefaultProvider is used when an employee does not name a provider.
const DefaultProvider = "deepseek"

// ProviderConfig is the generic configuration accepted by the factory function.
type ProviderConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ValidateModelParams checks sampling parameters before any client is built.
// Temperature must be within [0, 2] and max_tokens must be positive.
func ValidateModelParams(temperature float32, maxTokens int) error {
	if temperature < 0 || temperature > 2 {
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("temperature must be between 0 and 2, got %g", temperature))
	}
	if maxTokens < 1 {
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("max_tokens must be at least 1, got %d", maxTokens))
	}
	return nil
}

// NewProviderFromConfig creates a Provider instance based on the provider name
// and a generic ProviderConfig. It maps the name to the appropriate constructor.
//
// Supported names: deepseek, openai. Any other name is treated as a generic
// OpenAI-compatible provider and requires base_url.
func NewProviderFromConfig(name string, cfg ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if name == "" {
		name = DefaultProvider
	}

	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, types.NewError(types.ErrConfiguration,
			fmt.Sprintf("missing API key for provider %q", name))
	}

	switch name {
	case "deepseek":
		return deepseek.NewDeepSeekProvider(providers.DeepSeekConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger), nil

	case "openai":
		return openai.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger), nil

	default:
		// 通用 OpenAI 兼容提供商：任意名称 + base_url 即可接入
		if cfg.BaseURL == "" {
			return nil, types.NewError(types.ErrConfiguration,
				fmt.Sprintf("unknown provider %q (supported: %s); base_url is required for generic OpenAI-compatible providers",
					name, strings.Join(SupportedProviders(), ", ")))
		}
		logger.Info("creating generic OpenAI-compatible provider",
			zap.String("provider", name),
			zap.String("base_url", cfg.BaseURL))
		return openaicompat.New(openaicompat.Config{
			ProviderName: name,
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			Timeout:      cfg.Timeout,
		}, logger), nil
	}
}

// NewRetryingProvider builds a provider and wraps it with retry-on-transient
// semantics. This is the constructor the agent layer uses.
func NewRetryingProvider(name string, cfg ProviderConfig, retry providers.RetryConfig, logger *zap.Logger) (llm.Provider, error) {
	inner, err := NewProviderFromConfig(name, cfg, logger)
	if err != nil {
		return nil, err
	}
	return providers.NewRetryableProvider(inner, retry, logger), nil
}

// SupportedProviders returns the list of built-in provider names.
func SupportedProviders() []string {
	return []string{"deepseek", "openai"}
}
