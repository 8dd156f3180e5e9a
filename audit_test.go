package cashflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func TestWriteAuditLogAssignsIDAndTimestamp(t *testing.T) {
	s := newTestStorage(t)
	tenantID := "tenant-1"

	a := &AuditLog{
		TenantID:       tenantID,
		UserID:         "user-1",
		Action:         "invoice.post",
		EntityType:     "Invoice",
		EntityID:       "inv-1",
		IdempotencyKey: "key-1",
		CorrelationID:  "corr-1",
	}

	err := s.Update(func(tx *bbolt.Tx) error {
		return s.WriteAuditLog(tx, a)
	})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.False(t, a.OccurredAt.IsZero())

	var rows []*AuditLog
	err = s.View(func(tx *bbolt.Tx) error {
		var err error
		rows, err = s.ListAuditLog(tx, tenantID)
		return err
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "invoice.post", rows[0].Action)
}

func TestListAuditLogIsolatedPerTenant(t *testing.T) {
	s := newTestStorage(t)

	err := s.Update(func(tx *bbolt.Tx) error {
		if err := s.WriteAuditLog(tx, &AuditLog{TenantID: "tenant-a", Action: "invoice.post"}); err != nil {
			return err
		}
		return s.WriteAuditLog(tx, &AuditLog{TenantID: "tenant-b", Action: "expense.post"})
	})
	require.NoError(t, err)

	var rowsA, rowsB []*AuditLog
	err = s.View(func(tx *bbolt.Tx) error {
		var err error
		rowsA, err = s.ListAuditLog(tx, "tenant-a")
		if err != nil {
			return err
		}
		rowsB, err = s.ListAuditLog(tx, "tenant-b")
		return err
	})
	require.NoError(t, err)
	require.Len(t, rowsA, 1)
	require.Len(t, rowsB, 1)
	assert.Equal(t, "invoice.post", rowsA[0].Action)
	assert.Equal(t, "expense.post", rowsB[0].Action)
}
