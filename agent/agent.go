package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mekai/workforce/knowledge"
	"github.com/mekai/workforce/llm"
	"github.com/mekai/workforce/types"
)

// State is the agent's per-turn execution state.
type State string

const (
	StateStart         State = "start"
	StateDirectCall    State = "direct_call"
	StateReasoningLoop State = "reasoning_loop"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// Result is the outcome of one agent turn.
type Result struct {
	Answer        string        `json:"answer"`
	State         State         `json:"state"`
	Iterations    int           `json:"iterations"`
	UsedRetrieval bool          `json:"used_retrieval"`
	Fallback      bool          `json:"fallback"`
	Elapsed       time.Duration `json:"elapsed"`
	Usage         llm.ChatUsage `json:"usage"`
}

// Retriever is the knowledge lookup surface the agent depends on.
type Retriever interface {
	Retrieve(ctx context.Context, query string, baseIDs []string) (string, error)
}

// Agent executes chat turns for one employee persona. It is safe for
// concurrent use; all per-turn state lives on the stack.
type Agent struct {
	cfg       Config
	provider  llm.Provider
	retriever Retriever
	logger    *zap.Logger
}

// New creates an agent from an immutable config.
func New(cfg Config, provider llm.Provider, retriever Retriever, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		cfg:       cfg,
		provider:  provider,
		retriever: retriever,
		logger: logger.With(
			zap.String("component", "persona_agent"),
			zap.String("employee_id", cfg.Employee.ID),
		),
	}
}

// Config returns the agent's immutable configuration.
func (a *Agent) Config() Config { return a.cfg }

// Provider returns the underlying LLM provider.
func (a *Agent) Provider() llm.Provider { return a.provider }

// Invoke runs one chat turn. history must end with the newest user
// message; the agent prepends its own system prompt.
//
// Employees without bound knowledge bases take a single direct model
// call. Employees with knowledge enter the bounded reasoning loop: at
// most MaxIterations model calls and at most one retrieval per turn.
// A failed loop falls back to one direct call carrying only the
// tool-free system prompt and the current user message.
func (a *Agent) Invoke(ctx context.Context, history []types.Message) (*Result, error) {
	start := time.Now()

	var result *Result
	var err error
	if a.cfg.Employee.HasKnowledge() && a.retriever != nil {
		result, err = a.reasoningLoop(ctx, history)
		if err != nil {
			a.logger.Warn("reasoning loop failed, falling back to direct call", zap.Error(err))
			result, err = a.fallbackCall(ctx, history)
			if result != nil {
				result.Fallback = true
			}
		}
	} else {
		result, err = a.directCall(ctx, history)
	}

	if err != nil {
		return nil, types.NewError(types.ErrAgent, "agent turn failed").WithCause(err)
	}
	result.Elapsed = time.Since(start)
	return result, nil
}

// directCall performs a single completion without tools.
func (a *Agent) directCall(ctx context.Context, history []types.Message) (*Result, error) {
	resp, err := a.provider.Completion(ctx, a.chatRequest(history, false))
	if err != nil {
		return nil, err
	}
	msg := llm.FirstChoiceMessage(resp)
	return &Result{
		Answer:     msg.Content,
		State:      StateDone,
		Iterations: 1,
		Usage:      resp.Usage,
	}, nil
}

// reasoningLoop drives the tool-use conversation until a final answer,
// the iteration cap, or a provider failure.
func (a *Agent) reasoningLoop(ctx context.Context, history []types.Message) (*Result, error) {
	native := a.provider.SupportsNativeFunctionCalling()
	msgs := a.contextMessages(history)

	result := &Result{State: StateReasoningLoop}
	var usage llm.ChatUsage
	var lastContent string

	for i := 0; i < a.cfg.MaxIterations; i++ {
		result.Iterations++

		req := a.chatRequest(nil, native)
		req.Messages = msgs

		resp, err := a.provider.Completion(ctx, req)
		if err != nil {
			return nil, err
		}
		usage.PromptTokens += resp.Usage.PromptTokens
		usage.CompletionTokens += resp.Usage.CompletionTokens
		usage.TotalTokens += resp.Usage.TotalTokens

		assistantMsg := llm.FirstChoiceMessage(resp)
		if assistantMsg.Content != "" {
			lastContent = assistantMsg.Content
		}
		cls := Classify(assistantMsg)

		switch cls.Kind {
		case ResponseFinalAnswer:
			result.Answer = cls.Answer
			result.State = StateDone
			result.Usage = usage
			return result, nil

		case ResponseMalformed:
			// Unparseable tool protocol: surface the raw content rather
			// than failing the turn.
			a.logger.Warn("malformed tool protocol in model response",
				zap.Int("iteration", result.Iterations))
			result.Answer = cls.Answer
			result.State = StateDone
			result.Usage = usage
			return result, nil

		case ResponseToolCall:
			observation := a.executeTool(ctx, cls, result)
			msgs = append(msgs, assistantMsg)
			msgs = append(msgs, observationMessage(cls, observation, native))
		}
	}

	// Iteration cap: force-stop with whatever text was produced, even
	// if it is not a well-formed final answer. No extra model call.
	a.logger.Warn("iteration cap reached, force-stopping",
		zap.Int("iterations", result.Iterations))
	result.Answer = lastContent
	result.State = StateDone
	result.Usage = usage
	return result, nil
}

// fallbackCall is the degraded path after a failed reasoning loop: one
// completion carrying only the tool-free system prompt and the current
// user message. No history, no tools.
func (a *Agent) fallbackCall(ctx context.Context, history []types.Message) (*Result, error) {
	req := a.chatRequest(nil, false)
	req.Messages = []types.Message{types.NewSystemMessage(a.cfg.FallbackPrompt)}
	if user, ok := lastUserMessage(history); ok {
		req.Messages = append(req.Messages, user)
	}

	resp, err := a.provider.Completion(ctx, req)
	if err != nil {
		return nil, err
	}
	msg := llm.FirstChoiceMessage(resp)
	return &Result{
		Answer:     msg.Content,
		State:      StateDone,
		Iterations: 1,
		Usage:      resp.Usage,
	}, nil
}

// lastUserMessage returns the newest user-role message in history.
func lastUserMessage(history []types.Message) (types.Message, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == types.RoleUser {
			return history[i], true
		}
	}
	return types.Message{}, false
}

// executeTool resolves one tool request. Only knowledge retrieval exists,
// and only the first retrieval of a turn is executed.
func (a *Agent) executeTool(ctx context.Context, cls Classification, result *Result) string {
	if cls.ToolName != knowledge.ToolName {
		a.logger.Warn("model requested unknown tool", zap.String("tool", cls.ToolName))
		return fmt.Sprintf("Unknown tool %q. Only %q is available. Provide your final answer.",
			cls.ToolName, knowledge.ToolName)
	}

	if result.UsedRetrieval {
		return "Knowledge retrieval was already performed this turn. " +
			"Answer using the information you have."
	}

	var args knowledge.ToolArgs
	if err := json.Unmarshal(cls.ToolArgs, &args); err != nil || args.Query == "" {
		a.logger.Warn("invalid retrieval arguments", zap.Error(err))
		return "Invalid retrieval arguments. Provide your final answer using what you know."
	}

	result.UsedRetrieval = true
	out, err := a.retriever.Retrieve(ctx, args.Query, a.cfg.Employee.KnowledgeBaseIDs)
	if err != nil {
		// Retrieval errors never abort the turn.
		a.logger.Warn("retrieval failed", zap.Error(err))
		return fmt.Sprintf("Retrieval failed: %v. Answer using what you know.", err)
	}
	return out
}

// observationMessage wraps a tool result for the next model call. Native
// providers get a tool-role message; textual providers get an
// Observation line in a user message.
func observationMessage(cls Classification, observation string, native bool) types.Message {
	if native {
		return types.NewToolMessage(cls.ToolCallID, cls.ToolName, observation)
	}
	return types.NewUserMessage("Observation: " + observation)
}

// contextMessages prepends the persona system prompt to the turn history.
func (a *Agent) contextMessages(history []types.Message) []types.Message {
	msgs := make([]types.Message, 0, len(history)+1)
	msgs = append(msgs, types.NewSystemMessage(a.cfg.SystemPrompt))
	msgs = append(msgs, history...)
	return msgs
}

// chatRequest builds the provider request with the employee's sampling
// parameters. withTools attaches the retrieval schema for native
// function-calling providers.
func (a *Agent) chatRequest(history []types.Message, withTools bool) *llm.ChatRequest {
	req := &llm.ChatRequest{
		Model:       a.cfg.Employee.Model,
		Temperature: a.cfg.Employee.Temperature,
		MaxTokens:   a.cfg.Employee.MaxTokens,
	}
	if history != nil {
		req.Messages = a.contextMessages(history)
	}
	if withTools {
		req.Tools = []llm.ToolSchema{knowledge.ToolSchema()}
		req.ToolChoice = "auto"
	}
	return req
}

// Stream proxies a direct streaming completion for employees without
// knowledge bases. Knowledge-bound employees resolve the turn through
// Invoke and the caller streams the final answer.
func (a *Agent) Stream(ctx context.Context, history []types.Message) (<-chan llm.StreamChunk, error) {
	ch, err := a.provider.Stream(ctx, a.chatRequest(history, false))
	if err != nil {
		return nil, types.NewError(types.ErrAgent, "agent stream failed").WithCause(err)
	}
	return ch, nil
}
