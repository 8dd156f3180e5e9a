package cashflow

import (
	"math"

	"go.etcd.io/bbolt"
)

// ExternalStatementLine is one row of an imported bank statement,
// adapted from ahmed-com-fin's reconciliation.go ExternalStatement, down
// to what this repo's narrower Payment/ExpensePayment model can actually
// match against (no generic multi-currency Amount/Entry abstraction).
type ExternalStatementLine struct {
	ID            string    `json:"id"`
	BankAccountID string    `json:"bank_account_id"`
	Date          Date      `json:"date"`
	Description   string    `json:"description"`
	Amount        Money     `json:"amount"`
	Reference     string    `json:"reference,omitempty"`
}

// ReconciliationMatchType classifies how confidently a statement line was
// matched.
type ReconciliationMatchType string

const (
	MatchExact     ReconciliationMatchType = "EXACT"
	MatchSuggested ReconciliationMatchType = "SUGGESTED"
)

// ReconciliationMatch pairs one external statement line with the ledger
// side (Payment, ExpensePayment, or PurchaseBillPayment) it most likely
// corresponds to.
type ReconciliationMatch struct {
	TenantID          string                  `json:"tenant_id"`
	StatementLine     *ExternalStatementLine  `json:"statement_line"`
	PaymentID         string                  `json:"payment_id,omitempty"`
	ExpensePaymentID  string                  `json:"expense_payment_id,omitempty"`
	PurchaseBillPayID string                  `json:"purchase_bill_payment_id,omitempty"`
	MatchScore        float64                 `json:"match_score"`
	MatchType         ReconciliationMatchType `json:"match_type"`
}

func (s *Storage) SaveReconciliationMatch(tx *bbolt.Tx, m *ReconciliationMatch) error {
	return putJSON(tx, bucketReconciliations, m.TenantID, m.StatementLine.ID, m)
}

// bankSide is the common shape reconciliation candidates are reduced to,
// regardless of which document family they settle.
type bankSide struct {
	kind   string // "payment" | "expense_payment" | "purchase_bill_payment"
	id     string
	date   Date
	amount Money
}

// candidatesForBankAccount gathers every settlement row against
// bankAccountID across the three payment families, the reconciliation
// search space for one statement line.
func (s *Storage) candidatesForBankAccount(tx *bbolt.Tx, tenantID, bankAccountID string) ([]bankSide, error) {
	var out []bankSide

	err := forEachTenant(tx, bucketPayments, tenantID, func(_, v []byte) error {
		var p Payment
		if err := jsonUnmarshalBytes(v, &p); err != nil {
			return err
		}
		if p.BankAccountID == bankAccountID && p.ReversedAt == nil {
			out = append(out, bankSide{kind: "payment", id: p.ID, date: p.Date, amount: p.Amount})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = forEachTenant(tx, bucketExpensePayments, tenantID, func(_, v []byte) error {
		var p ExpensePayment
		if err := jsonUnmarshalBytes(v, &p); err != nil {
			return err
		}
		if p.BankAccountID == bankAccountID && p.ReversedAt == nil {
			out = append(out, bankSide{kind: "expense_payment", id: p.ID, date: p.Date, amount: p.Amount})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = forEachTenant(tx, bucketPurchaseBillPayments, tenantID, func(_, v []byte) error {
		var p PurchaseBillPayment
		if err := jsonUnmarshalBytes(v, &p); err != nil {
			return err
		}
		if p.BankAccountID == bankAccountID && p.ReversedAt == nil {
			out = append(out, bankSide{kind: "purchase_bill_payment", id: p.ID, date: p.Date, amount: p.Amount})
		}
		return nil
	})
	return out, err
}

func daysBetween(a, b Date) int {
	diff := a.Time().Sub(b.Time())
	return int(math.Abs(diff.Hours() / 24))
}

// AutoReconcile attempts to match every line of an imported bank
// statement against this tenant's unreversed settlement rows on the same
// bank account, scoring exact-amount matches by date proximity (within 3
// days), the way ahmed-com-fin's AutoReconcile does for its own Entry
// model.
func (s *Storage) AutoReconcile(tx *bbolt.Tx, tenantID string, lines []*ExternalStatementLine) ([]*ReconciliationMatch, error) {
	var matches []*ReconciliationMatch
	for _, line := range lines {
		candidates, err := s.candidatesForBankAccount(tx, tenantID, line.BankAccountID)
		if err != nil {
			return nil, err
		}

		var best *bankSide
		bestScore := 0.0
		for i := range candidates {
			c := &candidates[i]
			if !c.amount.Equal(line.Amount) {
				continue
			}
			days := daysBetween(line.Date, c.date)
			if days > 3 {
				continue
			}
			score := 1.0 - float64(days)*0.1
			if score > bestScore {
				bestScore = score
				best = c
			}
		}

		if best == nil {
			continue
		}
		match := &ReconciliationMatch{
			TenantID:      tenantID,
			StatementLine: line,
			MatchScore:    bestScore,
			MatchType:     MatchExact,
		}
		if bestScore < 1.0 {
			match.MatchType = MatchSuggested
		}
		switch best.kind {
		case "payment":
			match.PaymentID = best.id
		case "expense_payment":
			match.ExpensePaymentID = best.id
		case "purchase_bill_payment":
			match.PurchaseBillPayID = best.id
		}
		matches = append(matches, match)
	}
	return matches, nil
}
