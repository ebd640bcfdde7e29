package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mekai/workforce/agent"
	"github.com/mekai/workforce/chat"
	"github.com/mekai/workforce/employee"
	"github.com/mekai/workforce/knowledge"
	"github.com/mekai/workforce/llm"
	"github.com/mekai/workforce/memory"
	"github.com/mekai/workforce/testutil/mocks"
	"github.com/mekai/workforce/types"
)

type apiFixture struct {
	mux       *http.ServeMux
	employees employee.Store
	memory    memory.Store
	cache     *agent.MemoryCache
	emp       types.EmployeeConfig
}

func newAPIFixture(t *testing.T, provider llm.Provider) *apiFixture {
	t.Helper()
	logger := zap.NewNop()

	employees := employee.NewMemoryStore()
	emp, err := employees.Create(context.Background(), types.EmployeeConfig{
		Name:        "Ada",
		Persona:     "Support specialist",
		Provider:    "deepseek",
		Model:       "deepseek-chat",
		Temperature: 0.7,
		MaxTokens:   1024,
	})
	require.NoError(t, err)

	mem := memory.NewMemoryStore(0)
	cache := agent.NewMemoryCache()
	retriever := knowledge.NewRetriever(knowledge.NewMemoryStore(), nil)

	svc := chat.NewService(employees, mem, cache,
		func(types.EmployeeConfig) (llm.Provider, error) { return provider, nil },
		retriever, nil, logger, chat.Options{})

	mux := NewRouter(
		NewChatHandler(svc, logger),
		NewConversationHandler(mem, logger),
		NewEmployeeHandler(employees, svc.InvalidateAgent, logger),
		NewHealthHandler("test", logger),
	)
	return &apiFixture{mux: mux, employees: employees, memory: mem, cache: cache, emp: emp}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestChatEndpoint_Success(t *testing.T) {
	f := newAPIFixture(t, mocks.NewSuccessProvider("Hello there"))

	rec := f.do(t, http.MethodPost, "/api/v1/chat", map[string]string{
		"employee_id": f.emp.ID,
		"user_id":     "user-1",
		"message":     "hi",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chat.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Hello there", resp.Response)
	assert.Equal(t, "deepseek-chat", resp.ModelInfo.Model)
	assert.NotEmpty(t, resp.ConversationID)
}

func TestChatEndpoint_ValidationError(t *testing.T) {
	f := newAPIFixture(t, mocks.NewSuccessProvider("ok"))

	rec := f.do(t, http.MethodPost, "/api/v1/chat", map[string]string{
		"user_id": "user-1",
		"message": "hi",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, string(types.ErrValidation), resp.Error.Code)
}

func TestChatEndpoint_UnknownEmployee(t *testing.T) {
	f := newAPIFixture(t, mocks.NewSuccessProvider("ok"))

	rec := f.do(t, http.MethodPost, "/api/v1/chat", map[string]string{
		"employee_id": "ghost",
		"user_id":     "user-1",
		"message":     "hi",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(types.ErrNotFound), decodeEnvelope(t, rec).Error.Code)
}

func TestChatEndpoint_AgentErrorMapsToBadGateway(t *testing.T) {
	f := newAPIFixture(t, mocks.NewErrorProvider(errors.New("upstream down")))

	rec := f.do(t, http.MethodPost, "/api/v1/chat", map[string]string{
		"employee_id": f.emp.ID,
		"user_id":     "user-1",
		"message":     "hi",
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.Equal(t, string(types.ErrAgent), resp.Error.Code)
	// 失败信封同样携带耗时
	assert.Greater(t, resp.ProcessingTime, 0.0)
}

func TestChatEndpoint_RejectsUnknownFields(t *testing.T) {
	f := newAPIFixture(t, mocks.NewSuccessProvider("ok"))

	rec := f.do(t, http.MethodPost, "/api/v1/chat", map[string]string{
		"employee_id": f.emp.ID,
		"user_id":     "user-1",
		"message":     "hi",
		"bogus_field": "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatEndpoint_MissingContentType(t *testing.T) {
	f := newAPIFixture(t, mocks.NewSuccessProvider("ok"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat",
		strings.NewReader(`{"employee_id":"x","user_id":"u","message":"m"}`))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatStreamEndpoint(t *testing.T) {
	provider := mocks.NewMockProvider().WithStreamChunks([]string{"He", "llo"})
	f := newAPIFixture(t, provider)

	rec := f.do(t, http.MethodPost, "/api/v1/chat/stream", map[string]string{
		"employee_id": f.emp.ID,
		"user_id":     "user-1",
		"message":     "hi",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `"delta":"He"`)
	assert.Contains(t, body, `"delta":"llo"`)
	assert.Contains(t, body, "data: [DONE]")
}

func TestEmployeeEndpoints_CRUD(t *testing.T) {
	f := newAPIFixture(t, mocks.NewSuccessProvider("ok"))

	// 创建
	rec := f.do(t, http.MethodPost, "/api/v1/employees", map[string]interface{}{
		"name":        "Grace",
		"persona":     "Research analyst",
		"provider":    "deepseek",
		"model":       "deepseek-chat",
		"temperature": 0.3,
		"max_tokens":  512,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeEnvelope(t, rec)
	require.True(t, created.Success)
	raw, _ := json.Marshal(created.Data)
	var emp types.EmployeeConfig
	require.NoError(t, json.Unmarshal(raw, &emp))
	require.NotEmpty(t, emp.ID)

	// 查询
	rec = f.do(t, http.MethodGet, "/api/v1/employees/"+emp.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// 列表包含预置员工和新员工
	rec = f.do(t, http.MethodGet, "/api/v1/employees", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":2`)

	// 更新
	emp.Persona = "Senior research analyst"
	rec = f.do(t, http.MethodPut, "/api/v1/employees/"+emp.ID, emp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Senior research analyst")

	// 删除
	rec = f.do(t, http.MethodDelete, "/api/v1/employees/"+emp.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/employees/"+emp.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmployeeUpdate_InvalidatesAgentCache(t *testing.T) {
	f := newAPIFixture(t, mocks.NewSuccessProvider("ok"))

	// 先聊一轮让缓存生效
	rec := f.do(t, http.MethodPost, "/api/v1/chat", map[string]string{
		"employee_id": f.emp.ID, "user_id": "user-1", "message": "hi",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, f.cache.Len())

	emp := f.emp
	emp.Persona = "Changed persona"
	rec = f.do(t, http.MethodPut, "/api/v1/employees/"+emp.ID, emp)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Zero(t, f.cache.Len())
}

func TestEmployeeCreate_ValidationError(t *testing.T) {
	f := newAPIFixture(t, mocks.NewSuccessProvider("ok"))

	rec := f.do(t, http.MethodPost, "/api/v1/employees", map[string]interface{}{
		"name":        "Bad",
		"temperature": 9.0,
		"max_tokens":  100,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestConversationEndpoints(t *testing.T) {
	f := newAPIFixture(t, mocks.NewSuccessProvider("reply"))
	ctx := context.Background()

	// 通过对话产生会话和消息
	rec := f.do(t, http.MethodPost, "/api/v1/chat", map[string]string{
		"employee_id": f.emp.ID, "user_id": "user-1", "message": "first question",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var chatResp chat.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chatResp))
	convID := chatResp.ConversationID

	// 列表
	rec = f.do(t, http.MethodGet, "/api/v1/conversations?user_id=user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), convID)

	// 缺少 user_id
	rec = f.do(t, http.MethodGet, "/api/v1/conversations", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// 详情与历史
	rec = f.do(t, http.MethodGet, "/api/v1/conversations/"+convID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/conversations/%s/messages?limit=1", convID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reply")
	assert.NotContains(t, rec.Body.String(), "first question")

	// 删除后再查 404
	rec = f.do(t, http.MethodDelete, "/api/v1/conversations/"+convID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/conversations/"+convID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := f.memory.Get(ctx, convID)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestConversationHistory_UnknownConversation(t *testing.T) {
	f := newAPIFixture(t, mocks.NewSuccessProvider("ok"))
	rec := f.do(t, http.MethodGet, "/api/v1/conversations/ghost/messages", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t, mocks.NewSuccessProvider("ok"))

	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestReadyEndpoint_FailingCheck(t *testing.T) {
	logger := zap.NewNop()
	h := NewHealthHandler("test", logger)
	h.RegisterCheck(CheckFunc{CheckName: "database", Fn: func(ctx context.Context) error {
		return errors.New("connection refused")
	}})
	h.RegisterCheck(CheckFunc{CheckName: "cache", Fn: func(ctx context.Context) error {
		return nil
	}})

	rec := httptest.NewRecorder()
	h.HandleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "fail", status.Checks["database"].Status)
	assert.Equal(t, "pass", status.Checks["cache"].Status)
}
