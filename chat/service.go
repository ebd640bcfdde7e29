// Package chat orchestrates a chat turn end to end: request validation,
// conversation resolution, agent invocation, and persistence.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mekai/workforce/agent"
	"github.com/mekai/workforce/employee"
	"github.com/mekai/workforce/internal/metrics"
	"github.com/mekai/workforce/llm"
	"github.com/mekai/workforce/llm/tokenizer"
	"github.com/mekai/workforce/memory"
	"github.com/mekai/workforce/types"
)

const (
	// DefaultHistoryLimit is how many stored messages feed the model as
	// conversation context.
	DefaultHistoryLimit = 10

	// DefaultMaxMessageLen bounds a single user message in runes.
	DefaultMaxMessageLen = 4000

	// titleLen is how much of the first message becomes the conversation title.
	titleLen = 50
)

// ProviderFactory builds the LLM provider for an employee.
type ProviderFactory func(emp types.EmployeeConfig) (llm.Provider, error)

// Options tunes the orchestrator.
type Options struct {
	HistoryLimit    int
	MaxMessageLen   int
	MaxIterations   int
	RetrievalPolicy agent.RetrievalPolicy
}

func (o Options) withDefaults() Options {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.MaxMessageLen <= 0 {
		o.MaxMessageLen = DefaultMaxMessageLen
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = agent.DefaultMaxIterations
	}
	if o.RetrievalPolicy == "" {
		o.RetrievalPolicy = agent.RetrievalAuto
	}
	return o
}

// Request is one incoming chat turn. UserID may be empty for
// anonymous callers; UserContext carries the richer identity when the
// HTTP layer resolved one.
type Request struct {
	ConversationID string             `json:"conversation_id,omitempty"`
	EmployeeID     string             `json:"employee_id"`
	UserID         string             `json:"user_id,omitempty"`
	Message        string             `json:"message"`
	UserContext    *types.UserContext `json:"user_context,omitempty"`
	ModelOverrides *ModelOverrides    `json:"model_overrides,omitempty"`
}

// userID 返回本轮生效的用户标识，空串表示匿名
func (r Request) userID() string {
	if r.UserID != "" {
		return r.UserID
	}
	if r.UserContext != nil {
		return r.UserContext.UserID
	}
	return ""
}

func (r Request) orgID() string {
	if r.UserContext != nil {
		return r.UserContext.OrgID
	}
	return ""
}

// ModelOverrides adjusts the employee's model parameters for a single
// turn. An agent built with overrides is never cached.
type ModelOverrides struct {
	Model       string   `json:"model,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// ModelInfo describes the model that produced a response.
type ModelInfo struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
}

// Metadata carries agent execution details for observability.
type Metadata struct {
	Iterations    int    `json:"iterations"`
	UsedRetrieval bool   `json:"used_retrieval"`
	AgentState    string `json:"agent_state"`
}

// Response is the uniform chat turn envelope.
type Response struct {
	Success        bool      `json:"success"`
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	EmployeeID     string    `json:"employee_id"`
	UserID         string    `json:"user_id"`
	Response       string    `json:"response"`
	ProcessingTime float64   `json:"processing_time"`
	Timestamp      time.Time `json:"timestamp"`
	ModelInfo      ModelInfo `json:"model_info"`
	Metadata       Metadata  `json:"metadata"`
}

// Service orchestrates chat turns.
type Service struct {
	employees employee.Store
	memory    memory.Store
	cache     agent.Cache
	providers ProviderFactory
	retriever agent.Retriever
	metrics   *metrics.Collector
	logger    *zap.Logger
	opts      Options
}

// NewService wires the orchestrator. metrics may be nil.
func NewService(
	employees employee.Store,
	mem memory.Store,
	cache agent.Cache,
	providers ProviderFactory,
	retriever agent.Retriever,
	collector *metrics.Collector,
	logger *zap.Logger,
	opts Options,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		employees: employees,
		memory:    mem,
		cache:     cache,
		providers: providers,
		retriever: retriever,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "chat_service")),
		opts:      opts.withDefaults(),
	}
}

// Handle runs one chat turn and returns the uniform envelope.
func (s *Service) Handle(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if err := s.validate(req); err != nil {
		return nil, err
	}

	if _, err := s.employees.Get(ctx, req.EmployeeID); err != nil {
		if errors.Is(err, employee.ErrNotFound) {
			return nil, types.NewError(types.ErrNotFound,
				fmt.Sprintf("employee %s not found", req.EmployeeID))
		}
		return nil, types.NewError(types.ErrChatService, "load employee failed").WithCause(err)
	}

	conv, err := s.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	ag, err := s.agentFor(ctx, req)
	if err != nil {
		// 覆盖参数校验失败等已带错误码，直接透出
		if types.GetErrorCode(err) != "" {
			return nil, err
		}
		return nil, types.NewError(types.ErrChatService, "build agent failed").WithCause(err)
	}
	effective := ag.Config().Employee

	history, err := s.memory.ModelMessages(ctx, conv.ID, s.opts.HistoryLimit)
	if err != nil {
		return nil, types.NewError(types.ErrChatService, "load history failed").WithCause(err)
	}

	userMsg := types.NewUserMessage(req.Message)
	result, err := ag.Invoke(ctx, append(history, userMsg))
	if err != nil {
		s.observe(req.EmployeeID, "error", nil, time.Since(start))
		// Agent errors carry their own code; anything else is a service fault.
		if types.GetErrorCode(err) != "" {
			return nil, err
		}
		return nil, types.NewError(types.ErrChatService, "chat turn failed").WithCause(err)
	}

	// Some providers omit usage; fall back to a local estimate so token
	// accounting stays populated.
	if result.Usage.TotalTokens == 0 {
		result.Usage = estimateUsage(effective.Model, req.Message, result.Answer)
	}

	_, stored, err := s.memory.AppendPair(ctx, conv.ID, userMsg,
		types.NewAssistantMessage(result.Answer), memory.TurnMeta{
			Model:            effective.Model,
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
		})
	if err != nil {
		return nil, types.NewError(types.ErrChatService, "persist messages failed").WithCause(err)
	}

	s.observe(req.EmployeeID, "success", result, time.Since(start))

	return &Response{
		Success:        true,
		MessageID:      stored.ID,
		ConversationID: conv.ID,
		EmployeeID:     req.EmployeeID,
		UserID:         req.userID(),
		Response:       result.Answer,
		ProcessingTime: time.Since(start).Seconds(),
		Timestamp:      time.Now().UTC(),
		ModelInfo: ModelInfo{
			Provider:    effective.Provider,
			Model:       effective.Model,
			Temperature: effective.Temperature,
		},
		Metadata: Metadata{
			Iterations:    result.Iterations,
			UsedRetrieval: result.UsedRetrieval,
			AgentState:    string(result.State),
		},
	}, nil
}

// InvalidateAgent drops the cached agent after an employee change.
func (s *Service) InvalidateAgent(employeeID string) {
	s.cache.Invalidate(employeeID)
}

func (s *Service) validate(req Request) error {
	// user_id 可为空：允许匿名会话
	switch {
	case req.EmployeeID == "":
		return types.NewError(types.ErrValidation, "employee_id is required")
	case req.Message == "":
		return types.NewError(types.ErrValidation, "message is required")
	}
	if n := len([]rune(req.Message)); n > s.opts.MaxMessageLen {
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("message too long: %d characters, limit %d", n, s.opts.MaxMessageLen))
	}
	return nil
}

// resolveConversation loads or creates the conversation for this turn.
// A conversation bound to another employee is logged and used as-is.
func (s *Service) resolveConversation(ctx context.Context, req Request) (*memory.Conversation, error) {
	if req.ConversationID == "" {
		conv := s.newConversation(uuid.NewString(), req)
		if err := s.memory.Create(ctx, conv); err != nil {
			return nil, types.NewError(types.ErrChatService, "create conversation failed").WithCause(err)
		}
		return conv, nil
	}

	conv, err := s.memory.Get(ctx, req.ConversationID)
	if errors.Is(err, memory.ErrNotFound) {
		conv = s.newConversation(req.ConversationID, req)
		if err := s.memory.Create(ctx, conv); err != nil {
			return nil, types.NewError(types.ErrChatService, "create conversation failed").WithCause(err)
		}
		return conv, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrChatService, "load conversation failed").WithCause(err)
	}

	if conv.EmployeeID != req.EmployeeID {
		s.logger.Warn("conversation bound to another employee",
			zap.String("conversation_id", conv.ID),
			zap.String("bound_employee", conv.EmployeeID),
			zap.String("requested_employee", req.EmployeeID))
	}
	return conv, nil
}

// newConversation shapes a fresh conversation from the request's
// identity fields. UserID stays empty for anonymous callers.
func (s *Service) newConversation(id string, req Request) *memory.Conversation {
	conv := &memory.Conversation{
		ID:         id,
		EmployeeID: req.EmployeeID,
		UserID:     req.userID(),
		OrgID:      req.orgID(),
		Title:      truncate(req.Message, titleLen),
	}
	if req.UserContext != nil && len(req.UserContext.Metadata) > 0 {
		conv.Metadata = req.UserContext.Metadata
	}
	return conv
}

// agentFor resolves the agent for this turn: the cached one, or a
// transient uncached agent when the request overrides model parameters.
func (s *Service) agentFor(ctx context.Context, req Request) (*agent.Agent, error) {
	if req.ModelOverrides == nil {
		return s.cache.Get(ctx, req.EmployeeID, s.buildAgent)
	}

	emp, err := s.employees.Get(ctx, req.EmployeeID)
	if err != nil {
		return nil, err
	}
	over := req.ModelOverrides
	if over.Model != "" {
		emp.Model = over.Model
	}
	if over.Temperature != nil {
		emp.Temperature = *over.Temperature
	}
	if over.MaxTokens != nil {
		emp.MaxTokens = *over.MaxTokens
	}
	if err := employee.Validate(emp); err != nil {
		return nil, err
	}

	provider, err := s.providers(emp)
	if err != nil {
		return nil, err
	}
	cfg := agent.NewConfig(emp, s.opts.RetrievalPolicy, s.opts.MaxIterations)
	return agent.New(cfg, provider, s.retriever, s.logger), nil
}

// buildAgent is the cache miss path: load the employee, build its
// provider, assemble the immutable agent config.
func (s *Service) buildAgent(ctx context.Context, employeeID string) (*agent.Agent, error) {
	emp, err := s.employees.Get(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	provider, err := s.providers(emp)
	if err != nil {
		return nil, err
	}
	cfg := agent.NewConfig(emp, s.opts.RetrievalPolicy, s.opts.MaxIterations)
	return agent.New(cfg, provider, s.retriever, s.logger), nil
}

func (s *Service) observe(employeeID, outcome string, result *agent.Result, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	iterations := 0
	usedRetrieval := false
	if result != nil {
		iterations = result.Iterations
		usedRetrieval = result.UsedRetrieval
		s.metrics.ObserveTokens(employeeID, result.Usage.PromptTokens, result.Usage.CompletionTokens)
	}
	s.metrics.ObserveChatTurn(employeeID, outcome, iterations, usedRetrieval, elapsed)
}

// estimateUsage approximates token counts with the model's tokenizer.
func estimateUsage(model, prompt, answer string) llm.ChatUsage {
	tk := tokenizer.GetTokenizerOrEstimator(model)
	promptTokens, _ := tk.CountTokens(prompt)
	completionTokens, _ := tk.CountTokens(answer)
	return llm.ChatUsage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
