package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mekai/workforce/employee"
	"github.com/mekai/workforce/types"
)

// =============================================================================
// 👤 数字员工接口 Handler
// =============================================================================

// EmployeeHandler 数字员工 CRUD 处理器。
// 更新或删除员工会使对应的 agent 缓存失效。
type EmployeeHandler struct {
	store      employee.Store
	invalidate func(employeeID string)
	logger     *zap.Logger
}

// NewEmployeeHandler 创建员工处理器。invalidate 可为 nil。
func NewEmployeeHandler(store employee.Store, invalidate func(string), logger *zap.Logger) *EmployeeHandler {
	if invalidate == nil {
		invalidate = func(string) {}
	}
	return &EmployeeHandler{store: store, invalidate: invalidate, logger: logger}
}

// HandleCreate 创建员工
// @Summary 创建数字员工
// @Accept json
// @Produce json
// @Router /api/v1/employees [post]
func (h *EmployeeHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var emp types.EmployeeConfig
	if err := DecodeJSONBody(w, r, &emp, h.logger); err != nil {
		return
	}

	created, err := h.store.Create(r.Context(), emp)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	h.logger.Info("employee created",
		zap.String("employee_id", created.ID),
		zap.String("name", created.Name))
	WriteJSON(w, http.StatusCreated, Response{Success: true, Data: created})
}

// HandleGet 查询员工
// @Summary 员工详情
// @Produce json
// @Router /api/v1/employees/{id} [get]
func (h *EmployeeHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	emp, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	WriteSuccess(w, r, emp)
}

// HandleList 列出全部员工
// @Summary 员工列表
// @Produce json
// @Router /api/v1/employees [get]
func (h *EmployeeHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context())
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, map[string]interface{}{
		"employees": list,
		"total":     len(list),
	})
}

// HandleUpdate 更新员工并使 agent 缓存失效
// @Summary 更新数字员工
// @Accept json
// @Produce json
// @Router /api/v1/employees/{id} [put]
func (h *EmployeeHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var emp types.EmployeeConfig
	if err := DecodeJSONBody(w, r, &emp, h.logger); err != nil {
		return
	}
	emp.ID = r.PathValue("id")

	updated, err := h.store.Update(r.Context(), emp)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	// 配置变更后下一轮对话需要重建 agent
	h.invalidate(updated.ID)
	h.logger.Info("employee updated", zap.String("employee_id", updated.ID))
	WriteSuccess(w, r, updated)
}

// HandleDelete 删除员工并使 agent 缓存失效
// @Summary 删除数字员工
// @Produce json
// @Router /api/v1/employees/{id} [delete]
func (h *EmployeeHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	h.invalidate(id)
	h.logger.Info("employee deleted", zap.String("employee_id", id))
	WriteSuccess(w, r, map[string]interface{}{"deleted": id})
}

func (h *EmployeeHandler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, employee.ErrNotFound):
		WriteError(w, r, types.NewError(types.ErrNotFound, "employee not found"), h.logger)
	case errors.Is(err, employee.ErrAlreadyExists):
		WriteError(w, r, types.NewError(types.ErrValidation, "employee already exists").
			WithHTTPStatus(http.StatusConflict), h.logger)
	default:
		WriteServiceError(w, r, err, h.logger)
	}
}
