package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterContactRoutes 注册联系人与检查相关路由
func (r *Router) RegisterContactRoutes(h *ContactsHandler) {
	r.mux.Handle("/api/v1/contacts", h)
	r.mux.Handle("/api/v1/contacts/", h)
}

// RegisterTrustedRoutes 注册可信名单路由
func (r *Router) RegisterTrustedRoutes(h *TrustedHandler) {
	r.mux.Handle("/api/v1/trusted", h)
	r.mux.Handle("/api/v1/trusted/", h)
}

// RegisterHealth 健康检查
func (r *Router) RegisterHealth() {
	r.mux.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
