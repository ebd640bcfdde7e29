package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mekai/workforce/employee"
	"github.com/mekai/workforce/memory"
	"github.com/mekai/workforce/types"
)

// StreamEvent is one server-sent chunk of a streaming chat turn.
type StreamEvent struct {
	ConversationID string `json:"conversation_id"`
	Delta          string `json:"delta,omitempty"`
	Done           bool   `json:"done"`
	Error          string `json:"error,omitempty"`
}

// HandleStream runs one chat turn and streams the response. Employees
// without knowledge bases stream straight from the provider; knowledge
// bound employees resolve the turn first and emit the final answer as a
// single delta. The full reply is persisted after the stream completes.
func (s *Service) HandleStream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	emp, err := s.employees.Get(ctx, req.EmployeeID)
	if err != nil {
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
		if types.GetErrorCode(err) != "" {
			return nil, err
		}
		return nil, types.NewError(types.ErrChatService, "build agent failed").WithCause(err)
	}
	model := ag.Config().Employee.Model

	history, err := s.memory.ModelMessages(ctx, conv.ID, s.opts.HistoryLimit)
	if err != nil {
		return nil, types.NewError(types.ErrChatService, "load history failed").WithCause(err)
	}
	userMsg := types.NewUserMessage(req.Message)
	turn := append(history, userMsg)

	out := make(chan StreamEvent, 16)

	if emp.HasKnowledge() {
		result, err := ag.Invoke(ctx, turn)
		if err != nil {
			close(out)
			return out, err
		}
		go func() {
			defer close(out)
			out <- StreamEvent{ConversationID: conv.ID, Delta: result.Answer}
			s.persistTurn(ctx, conv.ID, model, userMsg, result.Answer)
			out <- StreamEvent{ConversationID: conv.ID, Done: true}
		}()
		return out, nil
	}

	chunks, err := ag.Stream(ctx, turn)
	if err != nil {
		close(out)
		return out, err
	}

	go func() {
		defer close(out)
		var full strings.Builder
		for chunk := range chunks {
			if chunk.Delta.Content != "" {
				full.WriteString(chunk.Delta.Content)
				select {
				case out <- StreamEvent{ConversationID: conv.ID, Delta: chunk.Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
		if full.Len() > 0 {
			s.persistTurn(ctx, conv.ID, model, userMsg, full.String())
		}
		out <- StreamEvent{ConversationID: conv.ID, Done: true}
	}()
	return out, nil
}

// persistTurn stores the user/assistant pair after streaming. Uses a
// fresh timeout so a cancelled stream still persists what was sent.
func (s *Service) persistTurn(ctx context.Context, conversationID, model string, userMsg types.Message, answer string) {
	persistCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		persistCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	usage := estimateUsage(model, userMsg.Content, answer)
	meta := memory.TurnMeta{
		Model:            model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
	}
	if _, _, err := s.memory.AppendPair(persistCtx, conversationID, userMsg,
		types.NewAssistantMessage(answer), meta); err != nil {
		s.logger.Error("persist streamed turn failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
}
