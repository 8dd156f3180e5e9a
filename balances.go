package cashflow

import (
	"go.etcd.io/bbolt"
)

// ListJournalEntries returns every journal entry for a tenant, in key (id)
// order, which is not creation order. Trimmed from ahmed-com-fin's query_api.go, which
// offered a much broader ad-hoc query surface (filters, pagination,
// aggregation pipelines); spec.md §1 scopes reads down to the two
// primitives actual callers need: balances and a sequential entry feed.
func (s *Storage) ListJournalEntries(tx *bbolt.Tx, tenantID string) ([]*JournalEntry, error) {
	var out []*JournalEntry
	err := forEachTenant(tx, bucketJournalEntries, tenantID, func(_, v []byte) error {
		var je JournalEntry
		if err := jsonUnmarshalBytes(v, &je); err != nil {
			return err
		}
		cp := je
		out = append(out, &cp)
		return nil
	})
	return out, err
}

// AccountBalance computes an account's balance, expressed in its normal
// balance direction (spec.md §4.C14: "balance" for a DEBIT-normal account
// is debits-minus-credits; for a CREDIT-normal account it is
// credits-minus-debits). Every journal entry's lines are summed, voided
// or not — voiding is metadata on the original entry, which never touches
// the posted lines themselves, so a voided entry's lines are still real
// postings and are offset only by the reversal entry posted against it.
func (s *Storage) AccountBalance(tx *bbolt.Tx, tenantID, accountID string) (Money, error) {
	account, err := s.GetAccount(tx, tenantID, accountID)
	if err != nil {
		return ZeroMoney, err
	}

	entries, err := s.ListJournalEntries(tx, tenantID)
	if err != nil {
		return ZeroMoney, err
	}

	debitTotal := ZeroMoney
	creditTotal := ZeroMoney
	for _, je := range entries {
		for _, line := range je.Lines {
			if line.AccountID != accountID {
				continue
			}
			debitTotal = debitTotal.Add(line.Debit)
			creditTotal = creditTotal.Add(line.Credit)
		}
	}

	if account.NormalBalance == BalanceCredit {
		return creditTotal.Sub(debitTotal), nil
	}
	return debitTotal.Sub(creditTotal), nil
}

// RemainingBalance computes the outstanding amount on a receivable or
// payable document: its total minus every payment/refund/credit amount
// the caller passes as applied against it so far. Document services
// (invoice.go, purchasebill.go, ...) pass the document's gross total and
// the sum of its non-reversed payments; no ledger lookup happens here.
func RemainingBalance(total Money, applied ...Money) Money {
	remaining := total
	for _, a := range applied {
		remaining = remaining.Sub(a)
	}
	return remaining
}
