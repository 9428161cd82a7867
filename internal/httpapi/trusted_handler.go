package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/himanshuu932/rakshak/internal/models"

	"go.uber.org/zap"
)

// TrustedStore 可信发送者存储接口
type TrustedStore interface {
	UpsertTrustedSender(ctx context.Context, t *models.TrustedSender) error
	ListTrustedSenders(ctx context.Context) ([]*models.TrustedSender, error)
	DeleteTrustedSender(ctx context.Context, phoneNumber string) error
}

// TrustedHandler 可信发送者名单管理 Handler（Responder 角色）
type TrustedHandler struct {
	trusted TrustedStore
	logger  *zap.Logger
}

// NewTrustedHandler 创建可信名单 Handler
func NewTrustedHandler(trusted TrustedStore, logger *zap.Logger) *TrustedHandler {
	return &TrustedHandler{
		trusted: trusted,
		logger:  logger,
	}
}

// ServeHTTP 实现 http.Handler 接口
func (h *TrustedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/trusted":
		switch r.Method {
		case http.MethodGet:
			h.ListTrustedSenders(w, r)
		case http.MethodPost, http.MethodPut:
			h.UpsertTrustedSender(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case strings.HasPrefix(r.URL.Path, "/api/v1/trusted/"):
		phoneNumber := strings.TrimPrefix(r.URL.Path, "/api/v1/trusted/")
		if phoneNumber == "" || strings.Contains(phoneNumber, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.DeleteTrustedSender(w, r, phoneNumber)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// UpsertTrustedSender 登记或更新可信发送者（同一号码只保留一条，暗号覆盖更新）
func (h *TrustedHandler) UpsertTrustedSender(w http.ResponseWriter, r *http.Request) {
	var req models.TrustedSender
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid request body"))
		return
	}
	if req.PhoneNumber == "" || req.Keyword == "" {
		writeJSON(w, http.StatusOK, Fail("phoneNumber and keyword are required"))
		return
	}

	if err := h.trusted.UpsertTrustedSender(r.Context(), &req); err != nil {
		h.logger.Error("UpsertTrustedSender failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(&req))
}

// ListTrustedSenders 可信名单
func (h *TrustedHandler) ListTrustedSenders(w http.ResponseWriter, r *http.Request) {
	senders, err := h.trusted.ListTrustedSenders(r.Context())
	if err != nil {
		h.logger.Error("ListTrustedSenders failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": senders,
		"total": len(senders),
	}))
}

// DeleteTrustedSender 移除可信发送者
func (h *TrustedHandler) DeleteTrustedSender(w http.ResponseWriter, r *http.Request, phoneNumber string) {
	if err := h.trusted.DeleteTrustedSender(r.Context(), phoneNumber); err != nil {
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}
