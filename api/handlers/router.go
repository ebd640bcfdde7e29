package handlers

import "net/http"

// NewRouter 注册全部业务路由
func NewRouter(
	chatH *ChatHandler,
	convH *ConversationHandler,
	empH *EmployeeHandler,
	healthH *HealthHandler,
) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/chat", chatH.HandleChat)
	mux.HandleFunc("POST /api/v1/chat/stream", chatH.HandleChatStream)

	mux.HandleFunc("GET /api/v1/conversations", convH.HandleList)
	mux.HandleFunc("GET /api/v1/conversations/{id}", convH.HandleGet)
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", convH.HandleHistory)
	mux.HandleFunc("DELETE /api/v1/conversations/{id}", convH.HandleDelete)

	mux.HandleFunc("POST /api/v1/employees", empH.HandleCreate)
	mux.HandleFunc("GET /api/v1/employees", empH.HandleList)
	mux.HandleFunc("GET /api/v1/employees/{id}", empH.HandleGet)
	mux.HandleFunc("PUT /api/v1/employees/{id}", empH.HandleUpdate)
	mux.HandleFunc("DELETE /api/v1/employees/{id}", empH.HandleDelete)

	mux.HandleFunc("GET /health", healthH.HandleHealth)
	mux.HandleFunc("GET /ready", healthH.HandleReady)

	return mux
}
