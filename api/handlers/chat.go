package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mekai/workforce/chat"
	"github.com/mekai/workforce/types"
)

// =============================================================================
// 💬 对话接口 Handler
// =============================================================================

// ChatHandler 对话接口处理器
type ChatHandler struct {
	service *chat.Service
	logger  *zap.Logger
}

// NewChatHandler 创建对话处理器
func NewChatHandler(service *chat.Service, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{service: service, logger: logger}
}

// HandleChat 处理一轮对话
// @Summary 与数字员工对话
// @Accept json
// @Produce json
// @Router /api/v1/chat [post]
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req chat.Request
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	resp, err := h.service.Handle(r.Context(), req)
	if err != nil {
		// 失败信封同样携带 processing_time
		WriteServiceErrorTimed(w, r, err, start, h.logger)
		return
	}

	h.logger.Info("chat turn",
		zap.String("employee_id", resp.EmployeeID),
		zap.String("conversation_id", resp.ConversationID),
		zap.Int("iterations", resp.Metadata.Iterations),
		zap.Bool("used_retrieval", resp.Metadata.UsedRetrieval),
		zap.Duration("duration", time.Since(start)),
	)

	// 对话响应本身就是统一信封，不再包一层
	WriteJSON(w, http.StatusOK, resp)
}

// HandleChatStream 处理流式对话
// @Summary 与数字员工流式对话
// @Accept json
// @Produce text/event-stream
// @Router /api/v1/chat/stream [post]
func (h *ChatHandler) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req chat.Request
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, r, types.NewError(types.ErrInternalError, "streaming not supported"), h.logger)
		return
	}

	events, err := h.service.HandleStream(r.Context(), req)
	if err != nil {
		WriteServiceErrorTimed(w, r, err, start, h.logger)
		return
	}

	// SSE 响应头
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("marshal stream event failed", zap.Error(err))
			return
		}
		w.Write([]byte("data: "))
		w.Write(payload)
		w.Write([]byte("\n\n"))
		flusher.Flush()
	}

	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}
