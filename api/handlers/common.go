package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mekai/workforce/types"
)

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success        bool        `json:"success"`
	Data           interface{} `json:"data,omitempty"`
	Error          *ErrorInfo  `json:"error,omitempty"`
	ProcessingTime float64     `json:"processing_time"`
	Timestamp      time.Time   `json:"timestamp"`
	RequestID      string      `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, r *http.Request, data interface{}) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: types.RequestIDFromContext(r.Context()),
	})
}

// WriteError 写入错误响应
func WriteError(w http.ResponseWriter, r *http.Request, err *types.Error, logger *zap.Logger) {
	writeErrorEnvelope(w, r, err, 0, logger)
}

// WriteErrorTimed 写入带处理耗时的错误响应
func WriteErrorTimed(w http.ResponseWriter, r *http.Request, err *types.Error, start time.Time, logger *zap.Logger) {
	writeErrorEnvelope(w, r, err, time.Since(start).Seconds(), logger)
}

func writeErrorEnvelope(w http.ResponseWriter, r *http.Request, err *types.Error, elapsed float64, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(err.Code)
	}

	if logger != nil {
		logger.Error("API error",
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.Error(err.Cause),
		)
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(err.Code),
			Message:   err.Message,
			Retryable: err.Retryable,
		},
		ProcessingTime: elapsed,
		Timestamp:      time.Now(),
		RequestID:      types.RequestIDFromContext(r.Context()),
	})
}

// WriteServiceError 将任意错误归一化后写出
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	WriteError(w, r, normalizeError(err), logger)
}

// WriteServiceErrorTimed 归一化任意错误并附带处理耗时写出
func WriteServiceErrorTimed(w http.ResponseWriter, r *http.Request, err error, start time.Time, logger *zap.Logger) {
	WriteErrorTimed(w, r, normalizeError(err), start, logger)
}

func normalizeError(err error) *types.Error {
	var typed *types.Error
	if errors.As(err, &typed) {
		return typed
	}
	return types.NewError(types.ErrInternalError, "internal error").WithCause(err)
}

// =============================================================================
// 🔄 错误码到 HTTP 状态码映射
// =============================================================================

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	// 4xx 客户端错误
	case types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrValidation:
		return http.StatusUnprocessableEntity
	case types.ErrNotFound, types.ErrModelNotFound:
		return http.StatusNotFound
	case types.ErrAuthentication:
		return http.StatusUnauthorized
	case types.ErrRateLimit:
		return http.StatusTooManyRequests
	case types.ErrQuotaExceeded:
		return http.StatusPaymentRequired
	case types.ErrContextTooLong:
		return http.StatusRequestEntityTooLarge

	// 5xx 服务端错误
	case types.ErrAgent, types.ErrUpstreamError:
		return http.StatusBadGateway
	case types.ErrTimeout:
		return http.StatusGatewayTimeout
	case types.ErrModelOverloaded, types.ErrProviderUnavailable:
		return http.StatusServiceUnavailable
	case types.ErrChatService, types.ErrConfiguration, types.ErrMemory, types.ErrKnowledge:
		return http.StatusInternalServerError

	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🛡️ 请求解析辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体，严格模式拒绝未知字段
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) error {
	if r.Body == nil {
		err := types.NewError(types.ErrInvalidRequest, "request body is empty")
		WriteError(w, r, err, logger)
		return err
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		apiErr := types.NewError(types.ErrInvalidRequest, "invalid JSON body").
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest)
		WriteError(w, r, apiErr, logger)
		return apiErr
	}
	return nil
}

// ValidateContentType 验证 Content-Type
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	ct := r.Header.Get("Content-Type")
	if ct != "application/json" && ct != "application/json; charset=utf-8" {
		WriteError(w, r, types.NewError(types.ErrInvalidRequest,
			"Content-Type must be application/json"), logger)
		return false
	}
	return true
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Flush 透传 Flusher，支持 SSE
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
