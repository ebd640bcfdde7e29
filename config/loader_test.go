package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 3, cfg.Chat.MaxToolIterations)
	assert.Equal(t, "auto", cfg.Chat.RetrievalPolicy)
	assert.Equal(t, 10, cfg.Chat.HistoryLimit)
	assert.Equal(t, 20, cfg.Chat.MaxHistory)
	assert.Equal(t, "deepseek", cfg.LLM.DefaultProvider)
	assert.Equal(t, "memory", cfg.Memory.Type)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9000
chat:
  max_tool_iterations: 5
  retrieval_policy: always
llm:
  default_provider: openai
  providers:
    openai:
      api_key: sk-test
      model: gpt-4o
memory:
  type: redis
redis:
  addr: redis:6379
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 5, cfg.Chat.MaxToolIterations)
	assert.Equal(t, "always", cfg.Chat.RetrievalPolicy)
	assert.Equal(t, "openai", cfg.LLM.DefaultProvider)
	assert.Equal(t, "sk-test", cfg.LLM.Providers["openai"].APIKey)
	assert.Equal(t, "gpt-4o", cfg.LLM.Providers["openai"].Model)
	assert.Equal(t, "redis", cfg.Memory.Type)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9000
`)
	t.Setenv("WORKFORCE_SERVER_HTTP_PORT", "9100")
	t.Setenv("WORKFORCE_CHAT_RETRIEVAL_POLICY", "always")
	t.Setenv("WORKFORCE_SERVER_READ_TIMEOUT", "45s")
	t.Setenv("WORKFORCE_LLM_DEEPSEEK_API_KEY", "sk-from-env")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.HTTPPort)
	assert.Equal(t, "always", cfg.Chat.RetrievalPolicy)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "sk-from-env", cfg.LLM.Providers["deepseek"].APIKey)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }},
		{"zero iterations", func(c *Config) { c.Chat.MaxToolIterations = 0 }},
		{"bad retrieval policy", func(c *Config) { c.Chat.RetrievalPolicy = "sometimes" }},
		{"zero history limit", func(c *Config) { c.Chat.HistoryLimit = 0 }},
		{"bad memory type", func(c *Config) { c.Memory.Type = "cassandra" }},
		{"redis without addr", func(c *Config) {
			c.Memory.Type = "redis"
			c.Redis.Addr = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_WithValidator(t *testing.T) {
	path := writeConfig(t, "server:\n  http_port: -1\n")
	_, err := NewLoader().
		WithConfigPath(path).
		WithValidator(func(c *Config) error { return c.Validate() }).
		Load()
	assert.Error(t, err)
}

func TestDatabaseDSN(t *testing.T) {
	d := DefaultDatabaseConfig()
	d.Password = "secret"
	dsn := d.DSN()
	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "dbname=workforce")
	assert.Contains(t, dsn, "password=secret")
	assert.Contains(t, dsn, "sslmode=disable")
}
