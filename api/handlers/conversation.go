package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mekai/workforce/memory"
	"github.com/mekai/workforce/types"
)

// =============================================================================
// 🗂️ 会话接口 Handler
// =============================================================================

// ConversationHandler 会话查询与管理处理器
type ConversationHandler struct {
	store  memory.Store
	logger *zap.Logger
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(store memory.Store, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{store: store, logger: logger}
}

// HandleList 列出用户的全部会话
// @Summary 会话列表
// @Produce json
// @Router /api/v1/conversations [get]
func (h *ConversationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		WriteError(w, r, types.NewError(types.ErrValidation, "user_id is required"), h.logger)
		return
	}

	convs, err := h.store.List(r.Context(), userID)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, map[string]interface{}{
		"conversations": convs,
		"total":         len(convs),
	})
}

// HandleGet 查询单个会话
// @Summary 会话详情
// @Produce json
// @Router /api/v1/conversations/{id} [get]
func (h *ConversationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	conv, err := h.store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, memory.ErrNotFound) {
		WriteError(w, r, types.NewError(types.ErrNotFound, "conversation not found"), h.logger)
		return
	}
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, conv)
}

// HandleHistory 查询会话消息历史
// @Summary 会话历史
// @Produce json
// @Router /api/v1/conversations/{id}/messages [get]
func (h *ConversationHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := h.store.Get(r.Context(), id); err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			WriteError(w, r, types.NewError(types.ErrNotFound, "conversation not found"), h.logger)
			return
		}
		WriteServiceError(w, r, err, h.logger)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteError(w, r, types.NewError(types.ErrValidation, "limit must be a non-negative integer"), h.logger)
			return
		}
		limit = n
	}

	msgs, err := h.store.History(r.Context(), id, limit)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, map[string]interface{}{
		"conversation_id": id,
		"messages":        msgs,
		"total":           len(msgs),
	})
}

// HandleDelete 删除会话及其消息
// @Summary 删除会话
// @Produce json
// @Router /api/v1/conversations/{id} [delete]
func (h *ConversationHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.store.Delete(r.Context(), id)
	if errors.Is(err, memory.ErrNotFound) {
		WriteError(w, r, types.NewError(types.ErrNotFound, "conversation not found"), h.logger)
		return
	}
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, map[string]interface{}{"deleted": id})
}
