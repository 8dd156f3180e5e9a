package cashflow

import (
	"go.etcd.io/bbolt"
)

// PostCustomerOpeningBalance posts the one-time journal entry that brings
// a customer's pre-existing receivable balance onto the ledger, per
// spec.md §4.C12. A customer with a zero opening balance, or one already
// posted, is a no-op (nil, nil) — this is safe to call unconditionally
// from customer-creation flows, the way ensureXAccount idioms elsewhere in
// this repo are.
//
// Debits AccountsReceivable, credits OpeningBalanceEquity: a customer who
// owes the company money increases an asset (debit-normal).
func (s *Storage) PostCustomerOpeningBalance(tx *bbolt.Tx, tenantID string, customer *Customer, userID string, date Date) (*JournalEntry, error) {
	if customer.OpeningBalanceJournalEntryID != "" {
		return nil, nil
	}
	if customer.OpeningBalance.IsZero() {
		return nil, nil
	}

	company, err := s.GetCompany(tx, tenantID)
	if err != nil {
		return nil, err
	}
	if company.AccountsReceivableAccountID == "" {
		return nil, NewConfigurationError("company has no accounts_receivable_account_id configured")
	}
	if company.OpeningBalanceEquityAccountID == "" {
		return nil, NewConfigurationError("company has no opening_balance_equity_account_id configured")
	}

	je, err := s.Post(tx, PostInput{
		TenantID:        tenantID,
		Date:            date,
		Description:     "Opening balance: customer " + customer.Name,
		CreatedByUserID: userID,
		Lines: []PostLineInput{
			{AccountID: company.AccountsReceivableAccountID, Debit: customer.OpeningBalance},
			{AccountID: company.OpeningBalanceEquityAccountID, Credit: customer.OpeningBalance},
		},
	})
	if err != nil {
		return nil, err
	}

	customer.OpeningBalanceJournalEntryID = je.ID
	if err := s.SaveCustomer(tx, customer); err != nil {
		return nil, err
	}
	return je, nil
}

// PostVendorOpeningBalance is PostCustomerOpeningBalance's mirror for a
// vendor's pre-existing payable balance: debits OpeningBalanceEquity,
// credits AccountsPayable — a vendor owed money increases a liability
// (credit-normal).
func (s *Storage) PostVendorOpeningBalance(tx *bbolt.Tx, tenantID string, vendor *Vendor, userID string, date Date) (*JournalEntry, error) {
	if vendor.OpeningBalanceJournalEntryID != "" {
		return nil, nil
	}
	if vendor.OpeningBalance.IsZero() {
		return nil, nil
	}

	company, err := s.GetCompany(tx, tenantID)
	if err != nil {
		return nil, err
	}
	if company.AccountsPayableAccountID == "" {
		return nil, NewConfigurationError("company has no accounts_payable_account_id configured")
	}
	if company.OpeningBalanceEquityAccountID == "" {
		return nil, NewConfigurationError("company has no opening_balance_equity_account_id configured")
	}

	je, err := s.Post(tx, PostInput{
		TenantID:        tenantID,
		Date:            date,
		Description:     "Opening balance: vendor " + vendor.Name,
		CreatedByUserID: userID,
		Lines: []PostLineInput{
			{AccountID: company.OpeningBalanceEquityAccountID, Debit: vendor.OpeningBalance},
			{AccountID: company.AccountsPayableAccountID, Credit: vendor.OpeningBalance},
		},
	})
	if err != nil {
		return nil, err
	}

	vendor.OpeningBalanceJournalEntryID = je.ID
	if err := s.SaveVendor(tx, vendor); err != nil {
		return nil, err
	}
	return je, nil
}
