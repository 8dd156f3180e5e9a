package cashflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func postedInvoice(t *testing.T, s *Storage, tx *bbolt.Tx, f salesFixture, totalStr string) *Invoice {
	t.Helper()
	inv, err := s.CreateInvoice(tx, CreateInvoiceInput{
		TenantID:   f.tenantID,
		CustomerID: f.customerID,
		Date:       Today(time.UTC),
		Lines:      []DocumentLine{f.line(t, "1", totalStr)},
	})
	require.NoError(t, err)
	inv, _, err = s.PostInvoice(context.Background(), tx, PostInvoiceInput{TenantID: f.tenantID, InvoiceID: inv.ID, UserID: "user-1"})
	require.NoError(t, err)
	return inv
}

func TestRecordInvoicePaymentMarksPartialThenPaid(t *testing.T) {
	s := newTestStorage(t)

	var inv *Invoice
	err := s.Update(func(tx *bbolt.Tx) error {
		f := setupSalesFixture(t, s, tx)
		bank := mustAccount(t, s, tx, f.tenantID, "1010", Asset)
		inv = postedInvoice(t, s, tx, f, "100.00")

		_, _, err := s.RecordInvoicePayment(tx, RecordInvoicePaymentInput{
			TenantID:      f.tenantID,
			InvoiceID:     inv.ID,
			Amount:        mustMoney(t, "40.00"),
			BankAccountID: bank.ID,
			Date:          Today(time.UTC),
			UserID:        "user-1",
		})
		require.NoError(t, err)

		inv, err = s.GetInvoice(tx, f.tenantID, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPartial, inv.Status)
		assert.True(t, inv.AmountPaid.Equal(mustMoney(t, "40.00")))

		_, _, err = s.RecordInvoicePayment(tx, RecordInvoicePaymentInput{
			TenantID:      f.tenantID,
			InvoiceID:     inv.ID,
			Amount:        mustMoney(t, "60.00"),
			BankAccountID: bank.ID,
			Date:          Today(time.UTC),
			UserID:        "user-1",
		})
		require.NoError(t, err)

		inv, err = s.GetInvoice(tx, f.tenantID, inv.ID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, inv.Status)
	assert.True(t, inv.AmountPaid.Equal(mustMoney(t, "100.00")))
}

func TestRecordInvoicePaymentRejectsOverpayment(t *testing.T) {
	s := newTestStorage(t)

	err := s.Update(func(tx *bbolt.Tx) error {
		f := setupSalesFixture(t, s, tx)
		bank := mustAccount(t, s, tx, f.tenantID, "1010", Asset)
		inv := postedInvoice(t, s, tx, f, "100.00")

		_, _, err := s.RecordInvoicePayment(tx, RecordInvoicePaymentInput{
			TenantID:      f.tenantID,
			InvoiceID:     inv.ID,
			Amount:        mustMoney(t, "150.00"),
			BankAccountID: bank.ID,
			Date:          Today(time.UTC),
			UserID:        "user-1",
		})
		return err
	})
	require.Error(t, err)
	var domErr *DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, "VALIDATION", domErr.Code)
}

func TestReverseInvoicePaymentRestoresStatus(t *testing.T) {
	s := newTestStorage(t)

	var payment *Payment
	var inv *Invoice
	err := s.Update(func(tx *bbolt.Tx) error {
		f := setupSalesFixture(t, s, tx)
		bank := mustAccount(t, s, tx, f.tenantID, "1010", Asset)
		inv = postedInvoice(t, s, tx, f, "100.00")

		var err error
		payment, _, err = s.RecordInvoicePayment(tx, RecordInvoicePaymentInput{
			TenantID:      f.tenantID,
			InvoiceID:     inv.ID,
			Amount:        mustMoney(t, "100.00"),
			BankAccountID: bank.ID,
			Date:          Today(time.UTC),
			UserID:        "user-1",
		})
		require.NoError(t, err)

		payment, _, err = s.ReverseInvoicePayment(tx, f.tenantID, payment.ID, "duplicate entry", "user-1", "")
		require.NoError(t, err)

		inv, err = s.GetInvoice(tx, f.tenantID, inv.ID)
		return err
	})
	require.NoError(t, err)
	assert.NotNil(t, payment.ReversedAt)
	assert.NotEmpty(t, payment.ReversalJournalEntryID)
	assert.Equal(t, StatusPosted, inv.Status)
	assert.True(t, inv.AmountPaid.IsZero())
}

func TestReverseInvoicePaymentRejectsDoubleReversal(t *testing.T) {
	s := newTestStorage(t)

	err := s.Update(func(tx *bbolt.Tx) error {
		f := setupSalesFixture(t, s, tx)
		bank := mustAccount(t, s, tx, f.tenantID, "1010", Asset)
		inv := postedInvoice(t, s, tx, f, "100.00")

		payment, _, err := s.RecordInvoicePayment(tx, RecordInvoicePaymentInput{
			TenantID:      f.tenantID,
			InvoiceID:     inv.ID,
			Amount:        mustMoney(t, "100.00"),
			BankAccountID: bank.ID,
			Date:          Today(time.UTC),
			UserID:        "user-1",
		})
		require.NoError(t, err)

		_, _, err = s.ReverseInvoicePayment(tx, f.tenantID, payment.ID, "dup", "user-1", "")
		require.NoError(t, err)

		_, _, err = s.ReverseInvoicePayment(tx, f.tenantID, payment.ID, "dup again", "user-1", "")
		return err
	})
	require.Error(t, err)
	var domErr *DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, "STATE", domErr.Code)
}

func TestRecordCreditNoteRefundReducesRemainingBalance(t *testing.T) {
	s := newTestStorage(t)

	var refund *CreditNoteRefund
	err := s.Update(func(tx *bbolt.Tx) error {
		f := setupSalesFixture(t, s, tx)
		bank := mustAccount(t, s, tx, f.tenantID, "1010", Asset)

		cn, err := s.CreateCreditNote(tx, CreateCreditNoteInput{
			TenantID:   f.tenantID,
			CustomerID: f.customerID,
			Date:       Today(time.UTC),
			Lines:      []DocumentLine{f.line(t, "1", "80.00")},
		})
		require.NoError(t, err)

		cn, _, err = s.PostCreditNote(context.Background(), tx, PostCreditNoteInput{TenantID: f.tenantID, CreditNoteID: cn.ID, UserID: "user-1"})
		require.NoError(t, err)

		refund, err = s.RecordCreditNoteRefund(tx, RecordCreditNoteRefundInput{
			TenantID:      f.tenantID,
			CreditNoteID:  cn.ID,
			Amount:        mustMoney(t, "30.00"),
			BankAccountID: bank.ID,
			Date:          Today(time.UTC),
			UserID:        "user-1",
		})
		require.NoError(t, err)

		// A second refund beyond the remaining 50.00 balance must fail.
		_, err = s.RecordCreditNoteRefund(tx, RecordCreditNoteRefundInput{
			TenantID:      f.tenantID,
			CreditNoteID:  cn.ID,
			Amount:        mustMoney(t, "60.00"),
			BankAccountID: bank.ID,
			Date:          Today(time.UTC),
			UserID:        "user-1",
		})
		require.Error(t, err)
		var domErr *DomainError
		require.ErrorAs(t, err, &domErr)
		assert.Equal(t, "VALIDATION", domErr.Code)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, refund.Amount.Equal(mustMoney(t, "30.00")))
	assert.NotEmpty(t, refund.JournalEntryID)
}

func TestListSalesPaymentsAndExpensePaymentsAreTenantScoped(t *testing.T) {
	s := newTestStorage(t)

	err := s.Update(func(tx *bbolt.Tx) error {
		require.NoError(t, s.SavePayment(tx, &Payment{TenantID: "tenant-1", ID: "pay-1", Amount: mustMoney(t, "10.00"), Date: Today(time.UTC)}))
		require.NoError(t, s.SavePayment(tx, &Payment{TenantID: "tenant-2", ID: "pay-2", Amount: mustMoney(t, "20.00"), Date: Today(time.UTC)}))
		require.NoError(t, s.SaveExpensePayment(tx, &ExpensePayment{TenantID: "tenant-1", ID: "exp-pay-1", Amount: mustMoney(t, "5.00"), Date: Today(time.UTC)}))

		sales, err := s.ListSalesPayments(tx, "tenant-1")
		require.NoError(t, err)
		assert.Len(t, sales, 1)
		assert.Equal(t, "pay-1", sales[0].ID)

		expenses, err := s.ListExpensePayments(tx, "tenant-1")
		require.NoError(t, err)
		assert.Len(t, expenses, 1)
		assert.Equal(t, "exp-pay-1", expenses[0].ID)
		return nil
	})
	require.NoError(t, err)
}
