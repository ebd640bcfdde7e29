package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_MessageAndCause(t *testing.T) {
	base := errors.New("connection refused")
	err := NewError(ErrAgent, "agent turn failed").WithCause(base)

	assert.Equal(t, "[AGENT_ERROR] agent turn failed: connection refused", err.Error())
	assert.ErrorIs(t, err, base)

	plain := NewError(ErrValidation, "message is required")
	assert.Equal(t, "[VALIDATION_ERROR] message is required", plain.Error())
}

func TestError_Builders(t *testing.T) {
	err := NewError(ErrRateLimit, "slow down").
		WithRetryable(true).
		WithHTTPStatus(429).
		WithProvider("deepseek")

	assert.True(t, IsRetryable(err))
	assert.Equal(t, 429, err.HTTPStatus)
	assert.Equal(t, "deepseek", err.Provider)
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, ErrNotFound, GetErrorCode(NewError(ErrNotFound, "missing")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.False(t, IsRetryable(errors.New("plain")))
}
