package cashflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func TestForEachTenantDoesNotLeakAcrossPrefixCollidingTenants(t *testing.T) {
	s := newTestStorage(t)

	err := s.Update(func(tx *bbolt.Tx) error {
		require.NoError(t, s.SaveCustomer(tx, &Customer{TenantID: "tenant-1", ID: "c1", Name: "A"}))
		// "tenant-10" shares "tenant-1" as a byte prefix but not as a
		// tenantKey prefix (which always includes the \x00 separator).
		require.NoError(t, s.SaveCustomer(tx, &Customer{TenantID: "tenant-10", ID: "c2", Name: "B"}))

		customers, err := s.ListCustomers(tx, "tenant-1")
		require.NoError(t, err)
		require.Len(t, customers, 1)
		assert.Equal(t, "c1", customers[0].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestGetMissingRowReturnsNotFound(t *testing.T) {
	s := newTestStorage(t)

	err := s.View(func(tx *bbolt.Tx) error {
		_, err := s.GetCustomer(tx, "tenant-1", "does-not-exist")
		return err
	})
	require.Error(t, err)
	var domErr *DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, "NOT_FOUND", domErr.Code)
}

func TestUpdateAndViewShareCommittedState(t *testing.T) {
	s := newTestStorage(t)

	err := s.Update(func(tx *bbolt.Tx) error {
		return s.SaveCustomer(tx, &Customer{TenantID: "tenant-1", ID: "c1", Name: "Acme"})
	})
	require.NoError(t, err)

	err = s.View(func(tx *bbolt.Tx) error {
		c, err := s.GetCustomer(tx, "tenant-1", "c1")
		require.NoError(t, err)
		assert.Equal(t, "Acme", c.Name)
		return nil
	})
	require.NoError(t, err)
}
