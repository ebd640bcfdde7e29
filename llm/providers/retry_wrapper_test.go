package providers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mekai/workforce/llm"
	"github.com/mekai/workforce/types"
)

// flakyProvider 前 failures 次调用返回 err，之后成功
type flakyProvider struct {
	failures int
	err      error
	calls    int
}

func (f *flakyProvider) Name() string                        { return "flaky" }
func (f *flakyProvider) SupportsNativeFunctionCalling() bool { return true }
func (f *flakyProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func (f *flakyProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &llm.ChatResponse{
		Choices: []llm.ChatChoice{{Message: types.NewAssistantMessage("recovered")}},
	}, nil
}

func (f *flakyProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:    maxRetries,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
		RetryableOnly: true,
	}
}

func retryableErr() *llm.Error {
	return &llm.Error{Code: llm.ErrRateLimited, Message: "rate limited", Retryable: true}
}

func TestRetryableProvider_RecoversAfterTransientFailures(t *testing.T) {
	inner := &flakyProvider{failures: 2, err: retryableErr()}
	p := NewRetryableProvider(inner, fastRetryConfig(3), nil)

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", llm.FirstChoiceMessage(resp).Content)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryableProvider_ExhaustsRetries(t *testing.T) {
	inner := &flakyProvider{failures: 100, err: retryableErr()}
	p := NewRetryableProvider(inner, fastRetryConfig(2), nil)

	_, err := p.Completion(context.Background(), &llm.ChatRequest{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, 3, inner.calls)
	assert.Contains(t, err.Error(), "after 2 retries")
}

func TestRetryableProvider_NonRetryableFailsFast(t *testing.T) {
	inner := &flakyProvider{
		failures: 100,
		err:      &llm.Error{Code: llm.ErrUnauthorized, Message: "bad key", Retryable: false},
	}
	p := NewRetryableProvider(inner, fastRetryConfig(3), nil)

	_, err := p.Completion(context.Background(), &llm.ChatRequest{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryableProvider_ContextCancelledDuringBackoff(t *testing.T) {
	inner := &flakyProvider{failures: 100, err: retryableErr()}
	cfg := fastRetryConfig(3)
	// 同时抬高上限，否则退避仍被 MaxDelay 截断而不会阻塞
	cfg.InitialDelay = time.Minute
	cfg.MaxDelay = 2 * time.Minute
	p := NewRetryableProvider(inner, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Completion(ctx, &llm.ChatRequest{Model: "m"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryableProvider_StreamRetriesConnection(t *testing.T) {
	inner := &flakyProvider{failures: 1, err: retryableErr()}
	p := NewRetryableProvider(inner, fastRetryConfig(2), nil)

	ch, err := p.Stream(context.Background(), &llm.ChatRequest{Model: "m"})
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.Equal(t, 2, inner.calls)
}

func TestCalculateDelay_Bounds(t *testing.T) {
	p := NewRetryableProvider(&flakyProvider{}, RetryConfig{
		MaxRetries:    5,
		InitialDelay:  time.Second,
		MaxDelay:      4 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.2,
	}, nil)

	for attempt := 1; attempt <= 5; attempt++ {
		d := p.calculateDelay(attempt)
		assert.Greater(t, d, time.Duration(0))
		// 上限加上抖动余量
		assert.LessOrEqual(t, d, 4*time.Second+500*time.Millisecond)
	}
}
