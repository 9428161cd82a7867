package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/himanshuu932/rakshak/internal/models"

	"go.uber.org/zap"
)

// ContactStore 联系人存储接口
type ContactStore interface {
	CreateContact(ctx context.Context, c *models.Contact) (string, error)
	GetContact(ctx context.Context, contactID string) (*models.Contact, error)
	ListContacts(ctx context.Context) ([]*models.Contact, error)
	UpdateContact(ctx context.Context, c *models.Contact) error
	DeleteContact(ctx context.Context, contactID string) error
}

// CheckEngine 检查操作接口
type CheckEngine interface {
	StartCheck(ctx context.Context, contactID string) error
	Status(ctx context.Context, contactID string) (*models.CheckStatus, error)
	LastLocation(ctx context.Context, contactID string) (*models.LocationRecord, error)
}

// ContactsHandler 联系人管理与位置检查 Handler
type ContactsHandler struct {
	contacts ContactStore
	engine   CheckEngine
	logger   *zap.Logger
}

// NewContactsHandler 创建联系人 Handler
func NewContactsHandler(contacts ContactStore, engine CheckEngine, logger *zap.Logger) *ContactsHandler {
	return &ContactsHandler{
		contacts: contacts,
		engine:   engine,
		logger:   logger,
	}
}

// ServeHTTP 实现 http.Handler 接口
func (h *ContactsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 路由分发
	switch {
	case r.URL.Path == "/api/v1/contacts":
		switch r.Method {
		case http.MethodGet:
			h.ListContacts(w, r)
		case http.MethodPost:
			h.CreateContact(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case strings.HasPrefix(r.URL.Path, "/api/v1/contacts/"):
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/contacts/")
		parts := strings.Split(path, "/")
		id := parts[0]
		if id == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch {
		case len(parts) == 1:
			switch r.Method {
			case http.MethodGet:
				h.GetContact(w, r, id)
			case http.MethodPut:
				h.UpdateContact(w, r, id)
			case http.MethodDelete:
				h.DeleteContact(w, r, id)
			default:
				w.WriteHeader(http.StatusMethodNotAllowed)
			}
		case len(parts) == 2 && parts[1] == "check" && r.Method == http.MethodPost:
			h.StartCheck(w, r, id)
		case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodGet:
			h.CheckStatus(w, r, id)
		case len(parts) == 2 && parts[1] == "location" && r.Method == http.MethodGet:
			h.LastLocation(w, r, id)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// CreateContact 登记联系人
func (h *ContactsHandler) CreateContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.Contact
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid request body"))
		return
	}
	if req.PhoneNumber == "" || req.SecretCode == "" {
		writeJSON(w, http.StatusOK, Fail("phoneNumber and secretCode are required"))
		return
	}

	contactID, err := h.contacts.CreateContact(ctx, &req)
	if err != nil {
		h.logger.Error("CreateContact failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}

	contact, err := h.contacts.GetContact(ctx, contactID)
	if err != nil {
		writeJSON(w, http.StatusOK, Ok(map[string]any{"contactId": contactID}))
		return
	}
	writeJSON(w, http.StatusOK, Ok(contact))
}

// ListContacts 联系人列表
func (h *ContactsHandler) ListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.contacts.ListContacts(r.Context())
	if err != nil {
		h.logger.Error("ListContacts failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": contacts,
		"total": len(contacts),
	}))
}

// GetContact 查询单个联系人
func (h *ContactsHandler) GetContact(w http.ResponseWriter, r *http.Request, contactID string) {
	contact, err := h.contacts.GetContact(r.Context(), contactID)
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(contact))
}

// UpdateContact 更新联系人
func (h *ContactsHandler) UpdateContact(w http.ResponseWriter, r *http.Request, contactID string) {
	ctx := r.Context()

	var req models.Contact
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid request body"))
		return
	}
	req.ID = contactID

	if err := h.contacts.UpdateContact(ctx, &req); err != nil {
		h.logger.Error("UpdateContact failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}

	contact, err := h.contacts.GetContact(ctx, contactID)
	if err != nil {
		writeJSON(w, http.StatusOK, Ok[any](nil))
		return
	}
	writeJSON(w, http.StatusOK, Ok(contact))
}

// DeleteContact 删除联系人
func (h *ContactsHandler) DeleteContact(w http.ResponseWriter, r *http.Request, contactID string) {
	if err := h.contacts.DeleteContact(r.Context(), contactID); err != nil {
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

// StartCheck 发起位置检查
func (h *ContactsHandler) StartCheck(w http.ResponseWriter, r *http.Request, contactID string) {
	if err := h.engine.StartCheck(r.Context(), contactID); err != nil {
		h.logger.Error("StartCheck failed",
			zap.String("contact_id", contactID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"contactId": contactID, "started": true}))
}

// CheckStatus 查询检查状态快照
func (h *ContactsHandler) CheckStatus(w http.ResponseWriter, r *http.Request, contactID string) {
	status, err := h.engine.Status(r.Context(), contactID)
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(status))
}

// LastLocation 对账后返回最新位置记录
func (h *ContactsHandler) LastLocation(w http.ResponseWriter, r *http.Request, contactID string) {
	rec, err := h.engine.LastLocation(r.Context(), contactID)
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	// 没有记录是正常状态，返回空 result
	writeJSON(w, http.StatusOK, Ok(rec))
}
