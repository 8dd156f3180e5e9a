package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"cashflow"
)

// tenantMiddleware lifts the :tenantId path parameter into the request
// context, the Tenant Guard step of spec.md §2's data flow ("HTTP
// ingress → Tenant Guard → ...").
func tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantId")
		if tenantID == "" {
			writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "missing tenant id in path"})
			return
		}
		ctx := cashflow.WithTenant(r.Context(), tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authMiddleware calls the external AuthHook and folds the resulting
// AuthenticatedUser into the request context, per spec.md §6:
// "Authentication is delegated to an external hook that populates
// request.user.userId".
func authMiddleware(hook cashflow.AuthHook) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := hook.UserFromRequest(r)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			ctx := cashflow.WithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireIdempotencyKey rejects every mutating request lacking the
// Idempotency-Key header, per spec.md §6: "Every mutating endpoint
// REQUIRES the header Idempotency-Key ...; absence returns 400."
func requireIdempotencyKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
			if r.Header.Get("Idempotency-Key") == "" {
				writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "missing Idempotency-Key header"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// requireRole rejects a request whose authenticated user's role may not
// perform the named action, per the Authorizer interface spec.md §6's
// RBAC check consumes.
func requireRole(authz cashflow.Authorizer, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := cashflow.RequireUser(r.Context())
			if err != nil {
				writeDomainError(w, err)
				return
			}
			if !authz.Can(user.Role, action) {
				writeDomainError(w, cashflow.NewForbiddenError("role "+string(user.Role)+" may not "+action))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// headerAuthHook is the default, minimal AuthHook: it trusts two headers
// (X-User-Id, X-User-Role) set by an upstream gateway. Real deployments
// are expected to swap this for a JWT/OIDC-validating implementation —
// spec.md §1 treats authentication itself as an external collaborator,
// this is only the wiring needed to run the server standalone.
type headerAuthHook struct{}

func NewHeaderAuthHook() cashflow.AuthHook { return headerAuthHook{} }

func (headerAuthHook) UserFromRequest(r *http.Request) (cashflow.AuthenticatedUser, error) {
	userID := r.Header.Get("X-User-Id")
	role := r.Header.Get("X-User-Role")
	if userID == "" || role == "" {
		return cashflow.AuthenticatedUser{}, cashflow.NewUnauthenticatedError("missing X-User-Id/X-User-Role headers")
	}
	return cashflow.AuthenticatedUser{UserID: userID, Role: cashflow.Role(role)}, nil
}

// staticAuthorizer is a fixed role→action allow-list covering the write
// actions this package's handlers name. OWNER and ACCOUNTANT may do
// everything; CLERK may create/record but not void/adjust/post period
// closes; VIEWER may do nothing mutating.
type staticAuthorizer struct {
	allow map[cashflow.Role]map[string]bool
}

func NewStaticAuthorizer() cashflow.Authorizer {
	full := map[string]bool{
		"create": true, "approve": true, "post": true, "adjust": true,
		"void": true, "pay": true, "refund": true, "reverse": true,
	}
	clerk := map[string]bool{"create": true, "approve": true, "pay": true, "refund": true}
	return &staticAuthorizer{allow: map[cashflow.Role]map[string]bool{
		cashflow.RoleOwner:      full,
		cashflow.RoleAccountant: full,
		cashflow.RoleClerk:      clerk,
		cashflow.RoleViewer:     {},
	}}
}

func (a *staticAuthorizer) Can(role cashflow.Role, action string) bool {
	return a.allow[role][action]
}

// correlationID extracts the request-scoped correlation id, generating one
// if the caller didn't supply X-Correlation-Id — every outbox event and
// audit row this package's handlers produce is tagged with it.
func correlationID(r *http.Request) string {
	if v := r.Header.Get("X-Correlation-Id"); v != "" {
		return v
	}
	return uuid.New().String()
}

func idempotencyKey(r *http.Request) string {
	return r.Header.Get("Idempotency-Key")
}
