package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"cashflow"
)

func TestRequireIdempotencyKeyAllowsGetWithoutHeader(t *testing.T) {
	called := false
	h := requireIdempotencyKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireIdempotencyKeyRejectsPostWithoutHeader(t *testing.T) {
	called := false
	h := requireIdempotencyKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodPost, "/anything", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHeaderAuthHookRequiresBothHeaders(t *testing.T) {
	hook := NewHeaderAuthHook()

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	_, err := hook.UserFromRequest(req)
	assert.Error(t, err)

	req.Header.Set("X-User-Id", "user-1")
	req.Header.Set("X-User-Role", "CLERK")
	user, err := hook.UserFromRequest(req)
	assert.NoError(t, err)
	assert.Equal(t, "user-1", user.UserID)
	assert.Equal(t, cashflow.RoleClerk, user.Role)
}

func TestStaticAuthorizerClerkCannotVoid(t *testing.T) {
	authz := NewStaticAuthorizer()
	assert.True(t, authz.Can(cashflow.RoleClerk, "create"))
	assert.False(t, authz.Can(cashflow.RoleClerk, "void"))
	assert.False(t, authz.Can(cashflow.RoleClerk, "adjust"))
}

func TestStaticAuthorizerOwnerAndAccountantCanDoEverything(t *testing.T) {
	authz := NewStaticAuthorizer()
	for _, action := range []string{"create", "approve", "post", "adjust", "void", "pay", "refund", "reverse"} {
		assert.True(t, authz.Can(cashflow.RoleOwner, action))
		assert.True(t, authz.Can(cashflow.RoleAccountant, action))
	}
}

func TestStaticAuthorizerViewerCannotDoAnything(t *testing.T) {
	authz := NewStaticAuthorizer()
	assert.False(t, authz.Can(cashflow.RoleViewer, "create"))
}

func TestCorrelationIDFallsBackToGeneratedValue(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	id1 := correlationID(req)
	assert.NotEmpty(t, id1)

	req.Header.Set("X-Correlation-Id", "fixed-id")
	assert.Equal(t, "fixed-id", correlationID(req))
}
