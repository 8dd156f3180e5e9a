package cashflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func TestAccountBalanceRespectsNormalBalance(t *testing.T) {
	s := newTestStorage(t)
	tenantID := "tenant-1"

	err := s.Update(func(tx *bbolt.Tx) error {
		cash := mustAccount(t, s, tx, tenantID, "1000", Asset)
		revenue := mustAccount(t, s, tx, tenantID, "4000", Income)

		_, err := s.Post(tx, PostInput{
			TenantID: tenantID,
			Date:     Today(time.UTC),
			Lines: []PostLineInput{
				{AccountID: cash.ID, Debit: mustMoney(t, "300.00")},
				{AccountID: revenue.ID, Credit: mustMoney(t, "300.00")},
			},
		})
		require.NoError(t, err)

		cashBalance, err := s.AccountBalance(tx, tenantID, cash.ID)
		require.NoError(t, err)
		assert.True(t, cashBalance.Equal(mustMoney(t, "300.00")), "debit-normal asset balance should read the net debit")

		revenueBalance, err := s.AccountBalance(tx, tenantID, revenue.ID)
		require.NoError(t, err)
		assert.True(t, revenueBalance.Equal(mustMoney(t, "300.00")), "credit-normal income balance should read the net credit")
		return nil
	})
	require.NoError(t, err)
}

func TestRemainingBalance(t *testing.T) {
	remaining := RemainingBalance(mustMoney(t, "100.00"), mustMoney(t, "30.00"), mustMoney(t, "20.00"))
	assert.True(t, remaining.Equal(mustMoney(t, "50.00")))
}
