package cashflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func TestNextSequenceIsMonotonicPerTenantAndDocType(t *testing.T) {
	s := newTestStorage(t)

	var numbers []string
	err := s.Update(func(tx *bbolt.Tx) error {
		for i := 0; i < 3; i++ {
			n, err := s.NextSequence(tx, "tenant-1", "INVOICE")
			if err != nil {
				return err
			}
			numbers = append(numbers, n)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"INV-00001", "INV-00002", "INV-00003"}, numbers)
}

func TestNextSequenceIsolatedAcrossDocTypesAndTenants(t *testing.T) {
	s := newTestStorage(t)

	var invNumber, billNumber, otherTenantNumber string
	err := s.Update(func(tx *bbolt.Tx) error {
		var err error
		invNumber, err = s.NextSequence(tx, "tenant-1", "INVOICE")
		if err != nil {
			return err
		}
		billNumber, err = s.NextSequence(tx, "tenant-1", "EXPENSE")
		if err != nil {
			return err
		}
		otherTenantNumber, err = s.NextSequence(tx, "tenant-2", "INVOICE")
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, "INV-00001", invNumber)
	assert.Equal(t, "BILL-00001", billNumber)
	assert.Equal(t, "INV-00001", otherTenantNumber)
}

func TestNextSequenceUnknownDocTypeFallsBackToItself(t *testing.T) {
	s := newTestStorage(t)

	var n string
	err := s.Update(func(tx *bbolt.Tx) error {
		var err error
		n, err = s.NextSequence(tx, "tenant-1", "WIDGET")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "WIDGET-00001", n)
}
