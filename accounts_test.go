package cashflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func TestEnsureAccountCreatesOnceAndReusesOnSubsequentCalls(t *testing.T) {
	s := newTestStorage(t)

	err := s.Update(func(tx *bbolt.Tx) error {
		first, err := s.EnsureAccount(tx, "tenant-1", "4000", "Sales Income", Income, "revenue", "operating")
		require.NoError(t, err)
		assert.Equal(t, BalanceCredit, first.NormalBalance)

		second, err := s.EnsureAccount(tx, "tenant-1", "4000", "Sales Income", Income, "revenue", "operating")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestEnsureAccountIsTenantScoped(t *testing.T) {
	s := newTestStorage(t)

	err := s.Update(func(tx *bbolt.Tx) error {
		a1, err := s.EnsureAccount(tx, "tenant-1", "4000", "Sales Income", Income, "", "")
		require.NoError(t, err)
		a2, err := s.EnsureAccount(tx, "tenant-2", "4000", "Sales Income", Income, "", "")
		require.NoError(t, err)
		assert.NotEqual(t, a1.ID, a2.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestEnsureDefaultAccountsUseCanonicalCodes(t *testing.T) {
	s := newTestStorage(t)

	err := s.Update(func(tx *bbolt.Tx) error {
		tax, err := s.EnsureTaxPayableAccount(tx, "tenant-1")
		require.NoError(t, err)
		assert.Equal(t, CodeDefaultTaxPayable, tax.Code)
		assert.Equal(t, Liability, tax.Type)

		sales, err := s.EnsureDefaultSalesIncomeAccount(tx, "tenant-1")
		require.NoError(t, err)
		assert.Equal(t, CodeDefaultSalesIncome, sales.Code)
		assert.Equal(t, Income, sales.Type)
		return nil
	})
	require.NoError(t, err)
}

func TestRequireAccountOfTypeRejectsUnconfigured(t *testing.T) {
	s := newTestStorage(t)

	err := s.View(func(tx *bbolt.Tx) error {
		_, err := requireAccountOfType(s, tx, "tenant-1", "", "accounts_receivable", Asset)
		return err
	})
	require.Error(t, err)
	var domErr *DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, "CONFIGURATION", domErr.Code)
}

func TestRequireAccountOfTypeRejectsWrongType(t *testing.T) {
	s := newTestStorage(t)

	var accountID string
	err := s.Update(func(tx *bbolt.Tx) error {
		a := mustAccount(t, s, tx, "tenant-1", "5000", Expense)
		accountID = a.ID
		_, err := requireAccountOfType(s, tx, "tenant-1", accountID, "accounts_receivable", Asset)
		return err
	})
	require.Error(t, err)
	var domErr *DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, "CONFIGURATION", domErr.Code)
}

func TestRequireAccountOfTypeRejectsInactive(t *testing.T) {
	s := newTestStorage(t)

	err := s.Update(func(tx *bbolt.Tx) error {
		a := mustAccount(t, s, tx, "tenant-1", "1100", Asset)
		a.IsActive = false
		require.NoError(t, s.SaveAccount(tx, a))

		_, err := requireAccountOfType(s, tx, "tenant-1", a.ID, "accounts_receivable", Asset)
		return err
	})
	require.Error(t, err)
	var domErr *DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, "CONFIGURATION", domErr.Code)
}

func TestRequireBankAccountRejectsCreditCardKind(t *testing.T) {
	s := newTestStorage(t)

	err := s.Update(func(tx *bbolt.Tx) error {
		a := mustAccount(t, s, tx, "tenant-1", "1010", Asset)
		a.BankKind = BankKindCreditCard
		require.NoError(t, s.SaveAccount(tx, a))

		_, err := requireBankAccount(s, tx, "tenant-1", a.ID, "")
		return err
	})
	require.Error(t, err)
	var domErr *DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, "CONFIGURATION", domErr.Code)
}

func TestRequireBankAccountRejectsMismatchedPaymentMode(t *testing.T) {
	s := newTestStorage(t)

	err := s.Update(func(tx *bbolt.Tx) error {
		a := mustAccount(t, s, tx, "tenant-1", "1010", Asset)
		a.BankKind = "CHECKING"
		require.NoError(t, s.SaveAccount(tx, a))

		_, err := requireBankAccount(s, tx, "tenant-1", a.ID, "SAVINGS")
		return err
	})
	require.Error(t, err)
	var domErr *DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, "VALIDATION", domErr.Code)
}

func TestRequireBankAccountAcceptsMatchingPaymentMode(t *testing.T) {
	s := newTestStorage(t)

	err := s.Update(func(tx *bbolt.Tx) error {
		a := mustAccount(t, s, tx, "tenant-1", "1010", Asset)
		a.BankKind = "CHECKING"
		require.NoError(t, s.SaveAccount(tx, a))

		resolved, err := requireBankAccount(s, tx, "tenant-1", a.ID, "CHECKING")
		require.NoError(t, err)
		assert.Equal(t, a.ID, resolved.ID)
		return nil
	})
	require.NoError(t, err)
}
