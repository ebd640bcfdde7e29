package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mekai/workforce/types"
)

func TestNewProviderFromConfig_DeepSeek(t *testing.T) {
	p, err := NewProviderFromConfig("deepseek", ProviderConfig{APIKey: "sk-test"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "deepseek", p.Name())
	assert.True(t, p.SupportsNativeFunctionCalling())
}

func TestNewProviderFromConfig_DefaultsToDeepSeek(t *testing.T) {
	p, err := NewProviderFromConfig("", ProviderConfig{APIKey: "sk-test"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "deepseek", p.Name())
}

func TestNewProviderFromConfig_OpenAI(t *testing.T) {
	p, err := NewProviderFromConfig("openai", ProviderConfig{APIKey: "sk-test", Model: "gpt-4o"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}

func TestNewProviderFromConfig_MissingAPIKey(t *testing.T) {
	for _, name := range []string{"deepseek", "openai"} {
		_, err := NewProviderFromConfig(name, ProviderConfig{}, nil)
		require.Error(t, err)
		assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
	}
}

func TestNewProviderFromConfig_BlankAPIKey(t *testing.T) {
	_, err := NewProviderFromConfig("deepseek", ProviderConfig{APIKey: "   "}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
}

func TestNewProviderFromConfig_UnknownWithoutBaseURL(t *testing.T) {
	_, err := NewProviderFromConfig("banana", ProviderConfig{APIKey: "sk-test"}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "deepseek")
}

func TestNewProviderFromConfig_GenericCompat(t *testing.T) {
	p, err := NewProviderFromConfig("ollama", ProviderConfig{
		APIKey:  "unused",
		BaseURL: "http://localhost:11434",
		Model:   "llama3",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())
}

func TestValidateModelParams(t *testing.T) {
	tests := []struct {
		name        string
		temperature float32
		maxTokens   int
		wantErr     bool
	}{
		{"valid", 0.7, 2048, false},
		{"zero temperature", 0, 1, false},
		{"max temperature", 2, 1, false},
		{"negative temperature", -0.1, 100, true},
		{"temperature too high", 2.01, 100, true},
		{"zero max tokens", 1.0, 0, true},
		{"negative max tokens", 1.0, -5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateModelParams(tt.temperature, tt.maxTokens)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
