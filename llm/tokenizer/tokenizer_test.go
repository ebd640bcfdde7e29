package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimator_ASCIIText(t *testing.T) {
	e := NewEstimatorTokenizer("test-model", 4096)

	n, err := e.CountTokens(strings.Repeat("word ", 100))
	require.NoError(t, err)

	// 约 4 字符一个 token，允许较大误差
	assert.Greater(t, n, 80)
	assert.Less(t, n, 200)
}

func TestEstimator_CJKTextDensity(t *testing.T) {
	e := NewEstimatorTokenizer("test-model", 4096)

	ascii, err := e.CountTokens(strings.Repeat("a", 300))
	require.NoError(t, err)
	cjk, err := e.CountTokens(strings.Repeat("汉", 300))
	require.NoError(t, err)

	// 中文字符密度更高
	assert.Greater(t, cjk, ascii)
}

func TestEstimator_EmptyText(t *testing.T) {
	e := NewEstimatorTokenizer("test-model", 4096)
	n, err := e.CountTokens("")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEstimator_CountMessagesAddsOverhead(t *testing.T) {
	e := NewEstimatorTokenizer("test-model", 4096)

	single, err := e.CountMessages([]Message{{Role: "user", Content: "hello"}})
	require.NoError(t, err)
	double, err := e.CountMessages([]Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hello"},
	})
	require.NoError(t, err)

	assert.Greater(t, double, single)
	assert.Greater(t, single, 0)
}

func TestRegistry_PrefixMatch(t *testing.T) {
	e := NewEstimatorTokenizer("custom-model", 4096)
	RegisterTokenizer("custom-model", e)

	got, err := GetTokenizer("custom-model-v2")
	require.NoError(t, err)
	assert.Equal(t, e.Name(), got.Name())

	_, err = GetTokenizer("totally-unknown")
	assert.Error(t, err)
}

func TestGetTokenizerOrEstimator_FallsBack(t *testing.T) {
	tk := GetTokenizerOrEstimator("never-registered-model")
	require.NotNil(t, tk)

	n, err := tk.CountTokens("some text to count")
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestTiktoken_KnownModels(t *testing.T) {
	tk, err := NewTiktokenTokenizer("gpt-4o")
	require.NoError(t, err)
	assert.Contains(t, tk.Name(), "tiktoken")
	assert.Greater(t, tk.MaxTokens(), 0)

	// 未知模型回落到 cl100k_base 默认编码，而不是报错
	fallback, err := NewTiktokenTokenizer("not-an-openai-model")
	require.NoError(t, err)
	assert.Contains(t, fallback.Name(), "cl100k_base")
	assert.Equal(t, 8192, fallback.MaxTokens())
}
