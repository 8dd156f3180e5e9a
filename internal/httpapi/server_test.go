package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cashflow"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	cfg := cashflow.Config{
		DBPath:    filepath.Join(t.TempDir(), "test.db"),
		RedisAddr: "127.0.0.1:1",
		LogLevel:  "error",
	}
	engine, err := cashflow.NewEngine(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	return NewHandler(engine, NewStaticAuthorizer(), NewHeaderAuthHook())
}

func authedRequest(method, url string, body interface{}) *http.Request {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("X-User-Id", "user-1")
	req.Header.Set("X-User-Role", "OWNER")
	req.Header.Set("Content-Type", "application/json")
	if method == http.MethodPost || method == http.MethodPut {
		req.Header.Set("Idempotency-Key", uuidLike())
	}
	return req
}

var seq int

func uuidLike() string {
	seq++
	return "idem-key-" + time.Now().UTC().Format("150405") + "-" + string(rune('a'+seq%26))
}

func TestCreateAndGetCustomerRoundTrips(t *testing.T) {
	router := NewRouter(newTestHandler(t))

	createReq := authedRequest(http.MethodPost, "/companies/tenant-1/customers", map[string]interface{}{
		"name": "Acme",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, createReq)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created cashflow.Customer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "Acme", created.Name)
	assert.NotEmpty(t, created.ID)

	getReq := authedRequest(http.MethodGet, "/companies/tenant-1/customers/"+created.ID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, getReq)
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched cashflow.Customer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, created.ID, fetched.ID)
}

func TestCreateCustomerMissingIdempotencyKeyRejected(t *testing.T) {
	router := NewRouter(newTestHandler(t))

	req := httptest.NewRequest(http.MethodPost, "/companies/tenant-1/customers", bytes.NewReader([]byte(`{"name":"Acme"}`)))
	req.Header.Set("X-User-Id", "user-1")
	req.Header.Set("X-User-Role", "OWNER")
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateCustomerMissingAuthHeadersRejected(t *testing.T) {
	router := NewRouter(newTestHandler(t))

	req := httptest.NewRequest(http.MethodPost, "/companies/tenant-1/customers", bytes.NewReader([]byte(`{"name":"Acme"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "key-1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestViewerRoleCannotCreateCustomer(t *testing.T) {
	router := NewRouter(newTestHandler(t))

	req := httptest.NewRequest(http.MethodPost, "/companies/tenant-1/customers", bytes.NewReader([]byte(`{"name":"Acme"}`)))
	req.Header.Set("X-User-Id", "user-1")
	req.Header.Set("X-User-Role", "VIEWER")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "key-1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMissingTenantIDRejected(t *testing.T) {
	router := NewRouter(newTestHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/companies//customers", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestRepeatedIdempotencyKeyReplaysCachedResponse(t *testing.T) {
	router := NewRouter(newTestHandler(t))
	key := "fixed-key-1"

	body := []byte(`{"name":"Acme"}`)
	makeReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/companies/tenant-1/customers", bytes.NewReader(body))
		req.Header.Set("X-User-Id", "user-1")
		req.Header.Set("X-User-Role", "OWNER")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", key)
		return req
	}

	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, makeReq())
	require.Equal(t, http.StatusCreated, rec1.Code)

	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, makeReq())
	require.Equal(t, http.StatusCreated, rec2.Code)

	assert.JSONEq(t, rec1.Body.String(), rec2.Body.String(), "replayed response must match the first, not create a second customer")
}
