package cashflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireTenantMissingReturnsUnauthenticated(t *testing.T) {
	_, err := RequireTenant(context.Background())
	require.Error(t, err)
	var domErr *DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, "UNAUTHENTICATED", domErr.Code)
}

func TestWithTenantRoundTrips(t *testing.T) {
	ctx := WithTenant(context.Background(), "tenant-1")
	tenantID, err := RequireTenant(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", tenantID)
}

func TestRequireUserMissingReturnsUnauthenticated(t *testing.T) {
	_, err := RequireUser(context.Background())
	require.Error(t, err)
	var domErr *DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, "UNAUTHENTICATED", domErr.Code)
}

func TestWithUserRoundTrips(t *testing.T) {
	ctx := WithUser(context.Background(), AuthenticatedUser{UserID: "user-1", Role: RoleAccountant})
	u, err := RequireUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-1", u.UserID)
	assert.Equal(t, RoleAccountant, u.Role)
}
