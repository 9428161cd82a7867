package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/himanshuu932/rakshak/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeContactStore struct {
	contacts map[string]*models.Contact
	nextID   string
}

func newFakeContactStore() *fakeContactStore {
	return &fakeContactStore{contacts: make(map[string]*models.Contact), nextID: "c1"}
}

func (f *fakeContactStore) CreateContact(_ context.Context, c *models.Contact) (string, error) {
	c.ID = f.nextID
	f.contacts[c.ID] = c
	return c.ID, nil
}

func (f *fakeContactStore) GetContact(_ context.Context, id string) (*models.Contact, error) {
	c, ok := f.contacts[id]
	if !ok {
		return nil, fmt.Errorf("contact not found: %s", id)
	}
	return c, nil
}

func (f *fakeContactStore) ListContacts(_ context.Context) ([]*models.Contact, error) {
	out := make([]*models.Contact, 0, len(f.contacts))
	for _, c := range f.contacts {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeContactStore) UpdateContact(_ context.Context, c *models.Contact) error {
	if _, ok := f.contacts[c.ID]; !ok {
		return fmt.Errorf("contact not found: %s", c.ID)
	}
	f.contacts[c.ID] = c
	return nil
}

func (f *fakeContactStore) DeleteContact(_ context.Context, id string) error {
	if _, ok := f.contacts[id]; !ok {
		return fmt.Errorf("contact not found: %s", id)
	}
	delete(f.contacts, id)
	return nil
}

type fakeEngine struct {
	started  []string
	startErr error
	status   *models.CheckStatus
	location *models.LocationRecord
}

func (f *fakeEngine) StartCheck(_ context.Context, contactID string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, contactID)
	return nil
}

func (f *fakeEngine) Status(_ context.Context, contactID string) (*models.CheckStatus, error) {
	if f.status == nil {
		return &models.CheckStatus{ContactID: contactID, State: models.CheckStateIdle, Status: "Idle"}, nil
	}
	return f.status, nil
}

func (f *fakeEngine) LastLocation(_ context.Context, _ string) (*models.LocationRecord, error) {
	return f.location, nil
}

type fakeTrustedStore struct {
	senders map[string]*models.TrustedSender
}

func newFakeTrustedStore() *fakeTrustedStore {
	return &fakeTrustedStore{senders: make(map[string]*models.TrustedSender)}
}

func (f *fakeTrustedStore) UpsertTrustedSender(_ context.Context, t *models.TrustedSender) error {
	f.senders[t.PhoneNumber] = t
	return nil
}

func (f *fakeTrustedStore) ListTrustedSenders(_ context.Context) ([]*models.TrustedSender, error) {
	out := make([]*models.TrustedSender, 0, len(f.senders))
	for _, s := range f.senders {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeTrustedStore) DeleteTrustedSender(_ context.Context, phoneNumber string) error {
	if _, ok := f.senders[phoneNumber]; !ok {
		return fmt.Errorf("trusted sender not found: %s", phoneNumber)
	}
	delete(f.senders, phoneNumber)
	return nil
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) Result[json.RawMessage] {
	t.Helper()
	var res Result[json.RawMessage]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestCreateContact(t *testing.T) {
	store := newFakeContactStore()
	h := NewContactsHandler(store, &fakeEngine{}, zap.NewNop())

	body, _ := json.Marshal(map[string]string{
		"displayName": "Amma",
		"phoneNumber": "9876543210",
		"secretCode":  "owl-77",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/contacts", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, ResultSuccess, res.Code)

	var contact models.Contact
	require.NoError(t, json.Unmarshal(res.Result, &contact))
	assert.Equal(t, "c1", contact.ID)
	assert.Equal(t, "Amma", contact.DisplayName)
}

func TestCreateContactMissingFields(t *testing.T) {
	h := NewContactsHandler(newFakeContactStore(), &fakeEngine{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/contacts", bytes.NewReader([]byte(`{"displayName":"x"}`)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	res := decodeResult(t, rec)
	assert.Equal(t, ResultError, res.Code)
}

func TestListContacts(t *testing.T) {
	store := newFakeContactStore()
	store.contacts["c1"] = &models.Contact{ID: "c1", PhoneNumber: "9876543210"}
	h := NewContactsHandler(store, &fakeEngine{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/contacts", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	res := decodeResult(t, rec)
	assert.Equal(t, ResultSuccess, res.Code)

	var payload struct {
		Items []*models.Contact `json:"items"`
		Total int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(res.Result, &payload))
	assert.Equal(t, 1, payload.Total)
}

func TestGetContactNotFound(t *testing.T) {
	h := NewContactsHandler(newFakeContactStore(), &fakeEngine{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/contacts/missing", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	res := decodeResult(t, rec)
	assert.Equal(t, ResultError, res.Code)
	assert.Contains(t, res.Message, "not found")
}

func TestUpdateAndDeleteContact(t *testing.T) {
	store := newFakeContactStore()
	store.contacts["c1"] = &models.Contact{ID: "c1", PhoneNumber: "9876543210", SecretCode: "owl-77"}
	h := NewContactsHandler(store, &fakeEngine{}, zap.NewNop())

	body, _ := json.Marshal(map[string]string{
		"displayName": "Amma ji",
		"phoneNumber": "9876543210",
		"secretCode":  "owl-88",
	})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/contacts/c1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, ResultSuccess, decodeResult(t, rec).Code)
	assert.Equal(t, "owl-88", store.contacts["c1"].SecretCode)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/contacts/c1", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, ResultSuccess, decodeResult(t, rec).Code)
	assert.Empty(t, store.contacts)
}

func TestStartCheckEndpoint(t *testing.T) {
	eng := &fakeEngine{}
	h := NewContactsHandler(newFakeContactStore(), eng, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/contacts/c1/check", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, ResultSuccess, decodeResult(t, rec).Code)
	assert.Equal(t, []string{"c1"}, eng.started)
}

func TestStartCheckEndpointFailure(t *testing.T) {
	eng := &fakeEngine{startErr: fmt.Errorf("secret code is not set for contact c1")}
	h := NewContactsHandler(newFakeContactStore(), eng, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/contacts/c1/check", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	res := decodeResult(t, rec)
	assert.Equal(t, ResultError, res.Code)
	assert.Contains(t, res.Message, "secret code")
}

func TestCheckStatusEndpoint(t *testing.T) {
	eng := &fakeEngine{status: &models.CheckStatus{
		ContactID: "c1",
		State:     models.CheckStateAwaitingReply,
		Status:    "Check sent, waiting for location...",
	}}
	h := NewContactsHandler(newFakeContactStore(), eng, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/contacts/c1/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	res := decodeResult(t, rec)
	require.Equal(t, ResultSuccess, res.Code)

	var status models.CheckStatus
	require.NoError(t, json.Unmarshal(res.Result, &status))
	assert.Equal(t, models.CheckStateAwaitingReply, status.State)
}

func TestLastLocationEndpoint(t *testing.T) {
	lat, lon := 19.076, 72.8777
	eng := &fakeEngine{location: &models.LocationRecord{
		Latitude: &lat, Longitude: &lon, Timestamp: 1700000000000,
	}}
	h := NewContactsHandler(newFakeContactStore(), eng, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/contacts/c1/location", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	res := decodeResult(t, rec)
	require.Equal(t, ResultSuccess, res.Code)

	var loc models.LocationRecord
	require.NoError(t, json.Unmarshal(res.Result, &loc))
	require.NotNil(t, loc.Latitude)
	assert.Equal(t, lat, *loc.Latitude)
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewContactsHandler(newFakeContactStore(), &fakeEngine{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/contacts", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTrustedUpsertListDelete(t *testing.T) {
	store := newFakeTrustedStore()
	h := NewTrustedHandler(store, zap.NewNop())

	body, _ := json.Marshal(map[string]string{
		"phoneNumber": "9876543210",
		"keyword":     "WhereRU",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/trusted", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, ResultSuccess, decodeResult(t, rec).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/trusted", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	res := decodeResult(t, rec)
	require.Equal(t, ResultSuccess, res.Code)

	var payload struct {
		Items []*models.TrustedSender `json:"items"`
		Total int                     `json:"total"`
	}
	require.NoError(t, json.Unmarshal(res.Result, &payload))
	assert.Equal(t, 1, payload.Total)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/trusted/9876543210", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, ResultSuccess, decodeResult(t, rec).Code)
	assert.Empty(t, store.senders)
}

func TestTrustedUpsertMissingKeyword(t *testing.T) {
	h := NewTrustedHandler(newFakeTrustedStore(), zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/trusted", bytes.NewReader([]byte(`{"phoneNumber":"123"}`)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, ResultError, decodeResult(t, rec).Code)
}

func TestRouterRoutes(t *testing.T) {
	router := NewRouter(zap.NewNop())
	router.RegisterContactRoutes(NewContactsHandler(newFakeContactStore(), &fakeEngine{}, zap.NewNop()))
	router.RegisterTrustedRoutes(NewTrustedHandler(newFakeTrustedStore(), zap.NewNop()))
	router.RegisterHealth()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/contacts", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
