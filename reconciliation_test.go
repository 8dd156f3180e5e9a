package cashflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func TestAutoReconcileExactMatch(t *testing.T) {
	s := newTestStorage(t)
	tenantID := "tenant-1"
	today := Today(time.UTC)

	err := s.Update(func(tx *bbolt.Tx) error {
		return s.SavePayment(tx, &Payment{
			TenantID:      tenantID,
			ID:            "pay-1",
			InvoiceID:     "inv-1",
			BankAccountID: "bank-1",
			Amount:        mustMoney(t, "100.00"),
			Date:          today,
		})
	})
	require.NoError(t, err)

	err = s.Update(func(tx *bbolt.Tx) error {
		matches, err := s.AutoReconcile(tx, tenantID, []*ExternalStatementLine{
			{ID: "line-1", BankAccountID: "bank-1", Date: today, Amount: mustMoney(t, "100.00")},
		})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "pay-1", matches[0].PaymentID)
		assert.Equal(t, MatchExact, matches[0].MatchType)
		assert.Equal(t, 1.0, matches[0].MatchScore)
		return nil
	})
	require.NoError(t, err)
}

func TestAutoReconcileSuggestedMatchWithinDateWindow(t *testing.T) {
	s := newTestStorage(t)
	tenantID := "tenant-1"
	today := Today(time.UTC)
	twoDaysAgo := NewDate(today.Time().AddDate(0, 0, -2))

	err := s.Update(func(tx *bbolt.Tx) error {
		return s.SavePayment(tx, &Payment{
			TenantID:      tenantID,
			ID:            "pay-1",
			BankAccountID: "bank-1",
			Amount:        mustMoney(t, "100.00"),
			Date:          twoDaysAgo,
		})
	})
	require.NoError(t, err)

	err = s.Update(func(tx *bbolt.Tx) error {
		matches, err := s.AutoReconcile(tx, tenantID, []*ExternalStatementLine{
			{ID: "line-1", BankAccountID: "bank-1", Date: today, Amount: mustMoney(t, "100.00")},
		})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, MatchSuggested, matches[0].MatchType)
		assert.Less(t, matches[0].MatchScore, 1.0)
		return nil
	})
	require.NoError(t, err)
}

func TestAutoReconcileNoMatchOutsideWindow(t *testing.T) {
	s := newTestStorage(t)
	tenantID := "tenant-1"
	today := Today(time.UTC)
	tenDaysAgo := NewDate(today.Time().AddDate(0, 0, -10))

	err := s.Update(func(tx *bbolt.Tx) error {
		return s.SavePayment(tx, &Payment{
			TenantID:      tenantID,
			ID:            "pay-1",
			BankAccountID: "bank-1",
			Amount:        mustMoney(t, "100.00"),
			Date:          tenDaysAgo,
		})
	})
	require.NoError(t, err)

	err = s.Update(func(tx *bbolt.Tx) error {
		matches, err := s.AutoReconcile(tx, tenantID, []*ExternalStatementLine{
			{ID: "line-1", BankAccountID: "bank-1", Date: today, Amount: mustMoney(t, "100.00")},
		})
		require.NoError(t, err)
		assert.Empty(t, matches)
		return nil
	})
	require.NoError(t, err)
}

func TestAutoReconcileIgnoresReversedPayments(t *testing.T) {
	s := newTestStorage(t)
	tenantID := "tenant-1"
	today := Today(time.UTC)
	now := time.Now().UTC()

	err := s.Update(func(tx *bbolt.Tx) error {
		return s.SavePayment(tx, &Payment{
			TenantID:      tenantID,
			ID:            "pay-1",
			BankAccountID: "bank-1",
			Amount:        mustMoney(t, "100.00"),
			Date:          today,
			ReversedAt:    &now,
		})
	})
	require.NoError(t, err)

	err = s.Update(func(tx *bbolt.Tx) error {
		matches, err := s.AutoReconcile(tx, tenantID, []*ExternalStatementLine{
			{ID: "line-1", BankAccountID: "bank-1", Date: today, Amount: mustMoney(t, "100.00")},
		})
		require.NoError(t, err)
		assert.Empty(t, matches, "a reversed payment must not be reconciled against")
		return nil
	})
	require.NoError(t, err)
}
