package cashflow

import (
	"context"
	"net/http"
)

// tenantCtxKey is an unexported type to avoid collisions on the
// context.Context key space, per the standard library's own advice.
type tenantCtxKey struct{}

// WithTenant returns a context carrying tenantID for the remainder of a
// request's call chain. internal/httpapi sets this once, from the path
// parameter, immediately after the Tenant Guard check (spec.md §2 data
// flow: "HTTP ingress → Tenant Guard → ...").
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, tenantID)
}

// RequireTenant extracts the tenant id a handler or service call is
// scoped to. Every Storage query and every lock key in this repository is
// built from a value obtained this way — a cross-tenant read is a defect,
// not a runtime error, per spec.md §5.
func RequireTenant(ctx context.Context) (string, error) {
	v, ok := ctx.Value(tenantCtxKey{}).(string)
	if !ok || v == "" {
		return "", NewUnauthenticatedError("no tenant in request context")
	}
	return v, nil
}

// AuthenticatedUser is populated by the external authentication hook
// (spec.md §6: "Authentication is delegated to an external hook that
// populates request.user.userId"). The core never authenticates
// credentials itself — it only consumes this value plus a Role for RBAC.
type AuthenticatedUser struct {
	UserID string
	Role   Role
}

// Role is one of the four RBAC roles spec.md §6 names.
type Role string

const (
	RoleOwner      Role = "OWNER"
	RoleAccountant Role = "ACCOUNTANT"
	RoleClerk      Role = "CLERK"
	RoleViewer     Role = "VIEWER"
)

// Authorizer checks whether a role may perform a named action. The concrete
// policy (which roles may post, void, adjust, ...) is an external
// collaborator per spec.md §1; this interface is what the core consumes.
type Authorizer interface {
	Can(role Role, action string) bool
}

// userCtxKey carries the AuthenticatedUser alongside the tenant id.
type userCtxKey struct{}

func WithUser(ctx context.Context, u AuthenticatedUser) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

func RequireUser(ctx context.Context) (AuthenticatedUser, error) {
	v, ok := ctx.Value(userCtxKey{}).(AuthenticatedUser)
	if !ok || v.UserID == "" {
		return AuthenticatedUser{}, NewUnauthenticatedError("no authenticated user in request context")
	}
	return v, nil
}

// AuthHook is the external authentication collaborator spec.md §6 names
// ("delegated to an external hook that populates request.user.userId").
// internal/httpapi calls this once per request and folds the result into
// the request context via WithUser; the core never inspects credentials
// itself.
type AuthHook interface {
	UserFromRequest(r *http.Request) (AuthenticatedUser, error)
}
