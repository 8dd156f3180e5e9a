package cashflow

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	dbFile := t.TempDir() + "/test.db"
	s, err := NewStorage(dbFile)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.Remove(dbFile)
	})
	return s
}

func mustAccount(t *testing.T, s *Storage, tx *bbolt.Tx, tenantID, code string, accType AccountType) *Account {
	t.Helper()
	a, err := s.EnsureAccount(tx, tenantID, code, code, accType, "", "")
	require.NoError(t, err)
	return a
}

func mustMoney(t *testing.T, s string) Money {
	t.Helper()
	m, err := NewMoney(s)
	require.NoError(t, err)
	return m
}

func TestPostRequiresBalance(t *testing.T) {
	s := newTestStorage(t)
	tenantID := "tenant-1"

	err := s.Update(func(tx *bbolt.Tx) error {
		cash := mustAccount(t, s, tx, tenantID, "1000", Asset)
		revenue := mustAccount(t, s, tx, tenantID, "4000", Income)

		_, err := s.Post(tx, PostInput{
			TenantID: tenantID,
			Date:     Today(time.UTC),
			Lines: []PostLineInput{
				{AccountID: cash.ID, Debit: mustMoney(t, "100.00")},
				{AccountID: revenue.ID, Credit: mustMoney(t, "99.00")},
			},
		})
		return err
	})
	require.Error(t, err)
	var domErr *DomainError
	require.ErrorAs(t, err, &domErr)
}

func TestPostAndReverse(t *testing.T) {
	s := newTestStorage(t)
	tenantID := "tenant-1"

	var originalID string
	err := s.Update(func(tx *bbolt.Tx) error {
		cash := mustAccount(t, s, tx, tenantID, "1000", Asset)
		revenue := mustAccount(t, s, tx, tenantID, "4000", Income)

		je, err := s.Post(tx, PostInput{
			TenantID: tenantID,
			Date:     Today(time.UTC),
			Lines: []PostLineInput{
				{AccountID: cash.ID, Debit: mustMoney(t, "100.00")},
				{AccountID: revenue.ID, Credit: mustMoney(t, "100.00")},
			},
			CreatedByUserID: "user-1",
		})
		require.NoError(t, err)
		originalID = je.ID
		return nil
	})
	require.NoError(t, err)

	err = s.Update(func(tx *bbolt.Tx) error {
		original, err := s.GetJournalEntry(tx, tenantID, originalID)
		require.NoError(t, err)

		rev, err := s.PostReversal(tx, original, "test reversal", "user-1", Today(time.UTC), "reversing entry")
		require.NoError(t, err)
		assert.Equal(t, originalID, rev.ReversalOfJournalEntryID)

		// Second reversal of the same original must be rejected.
		_, err = s.PostReversal(tx, original, "double reversal", "user-1", Today(time.UTC), "should fail")
		return err
	})
	require.Error(t, err)
	var domErr *DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, "ALREADY_REVERSED", domErr.Code)
}

func TestAdjustmentLinesComputesDelta(t *testing.T) {
	original := []PostLineInput{
		{AccountID: "ar", Debit: mustMoney(t, "110.00")},
		{AccountID: "income", Credit: mustMoney(t, "100.00")},
		{AccountID: "tax", Credit: mustMoney(t, "10.00")},
	}
	desired := []PostLineInput{
		{AccountID: "ar", Debit: mustMoney(t, "220.00")},
		{AccountID: "income", Credit: mustMoney(t, "200.00")},
		{AccountID: "tax", Credit: mustMoney(t, "20.00")},
	}

	lines, err := AdjustmentLines(original, desired)
	require.NoError(t, err)
	require.Len(t, lines, 3)

	byAccount := map[string]PostLineInput{}
	for _, l := range lines {
		byAccount[l.AccountID] = l
	}
	assert.True(t, byAccount["ar"].Debit.Equal(mustMoney(t, "110.00")))
	assert.True(t, byAccount["income"].Credit.Equal(mustMoney(t, "100.00")))
	assert.True(t, byAccount["tax"].Credit.Equal(mustMoney(t, "10.00")))
}

func TestAdjustmentLinesNoOpWhenUnchanged(t *testing.T) {
	lines := []PostLineInput{
		{AccountID: "ar", Debit: mustMoney(t, "50.00")},
		{AccountID: "income", Credit: mustMoney(t, "50.00")},
	}
	out, err := AdjustmentLines(lines, lines)
	require.NoError(t, err)
	assert.Nil(t, out)
}
