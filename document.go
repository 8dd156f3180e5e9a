package cashflow

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DocumentStatus is the shared status vocabulary across every document
// family in C9. Not every status applies to every family — see each
// family's own transition table in invoice.go / creditnote.go /
// expense.go / purchasebill.go.
type DocumentStatus string

const (
	StatusDraft    DocumentStatus = "DRAFT"
	StatusApproved DocumentStatus = "APPROVED"
	StatusPosted   DocumentStatus = "POSTED"
	StatusPartial  DocumentStatus = "PARTIAL"
	StatusPaid     DocumentStatus = "PAID"
	StatusVoid     DocumentStatus = "VOID"
)

// DocumentLine is the shared shape of one priced line across invoices,
// credit notes, expenses, and purchase bills, per spec.md §4.C9's posting
// procedure ("recompute line subtotal = (qty×unit − discount), line tax =
// subtotal×rate").
type DocumentLine struct {
	ID              string      `json:"id"`
	ItemID          string      `json:"item_id"`
	Description     string      `json:"description,omitempty"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       Money       `json:"unit_price"`
	Discount        Money       `json:"discount"`
	TaxRate         Rate        `json:"tax_rate"`
	AccountID       string      `json:"account_id"` // income account (sales) or expense/inventory account (purchases)
	LocationID      string      `json:"location_id,omitempty"`
	TrackInventory  bool        `json:"track_inventory"`

	// Subtotal/TaxAmount are the last-computed, stored values — recomputed
	// and compared against on every post/adjust, per spec.md's
	// ROUNDING_MISMATCH check.
	Subtotal  Money `json:"subtotal"`
	TaxAmount Money `json:"tax_amount"`
}

// computedLineTotals recomputes one line's subtotal and tax from its raw
// inputs, per spec.md §4.C9: "recompute line subtotal = (qty×unit −
// discount), line tax = subtotal×rate".
func computedLineTotals(l DocumentLine) (subtotal, tax Money, err error) {
	if l.Quantity.LessThanOrEqual(decimal.Zero) {
		return ZeroMoney, ZeroMoney, NewValidationError(fmt.Sprintf("line %s: quantity must be > 0", l.ID))
	}
	gross := l.UnitPrice.Mul(l.Quantity)
	if l.Discount.GreaterThan(gross) {
		return ZeroMoney, ZeroMoney, NewValidationError(fmt.Sprintf("line %s: discount exceeds subtotal", l.ID))
	}
	subtotal = gross.Sub(l.Discount)
	tax = subtotal.MulRate(l.TaxRate)
	return subtotal, tax, nil
}

// lineTotals is the aggregate of recomputing every line on a document,
// grouped by account for the Ledger Poster's bucketed credit/debit lines.
type lineTotals struct {
	Subtotal          Money
	TaxAmount         Money
	Total             Money
	BucketsByAccount  map[string]Money // per-account subtotal; first-seen order kept in AccountOrder
	AccountOrder      []string
}

// recomputeDocumentTotals walks every line, validating and recomputing
// subtotal/tax, and buckets subtotals by AccountID — the shared core of
// every document family's "recompute ... else fail ROUNDING_MISMATCH"
// step.
func recomputeDocumentTotals(lines []DocumentLine) (*lineTotals, error) {
	out := &lineTotals{BucketsByAccount: map[string]Money{}}
	for i := range lines {
		subtotal, tax, err := computedLineTotals(lines[i])
		if err != nil {
			return nil, err
		}
		lines[i].Subtotal = subtotal
		lines[i].TaxAmount = tax
		out.Subtotal = out.Subtotal.Add(subtotal)
		out.TaxAmount = out.TaxAmount.Add(tax)
		if _, ok := out.BucketsByAccount[lines[i].AccountID]; !ok {
			out.AccountOrder = append(out.AccountOrder, lines[i].AccountID)
		}
		out.BucketsByAccount[lines[i].AccountID] = out.BucketsByAccount[lines[i].AccountID].Add(subtotal)
	}
	out.Total = out.Subtotal.Add(out.TaxAmount)
	return out, nil
}

// checkRoundingMatches enforces spec.md's "require recomputed total =
// stored total to 2dp else fail ROUNDING_MISMATCH".
func checkRoundingMatches(recomputed, stored Money) error {
	if !recomputed.Equal(stored) {
		return NewRoundingMismatchError(recomputed, stored)
	}
	return nil
}

// documentBucketPostLines maps a document's lines to one posting line per
// income/expense bucket, on the debit or credit side depending on the
// document family (sales documents credit income buckets, purchase
// documents debit expense buckets). The AR/AP counter-line is added by
// the caller, since it needs the document's grand total rather than a
// per-line amount. Shared by every C9 family's adjust procedure for
// AdjustmentLines' "original vs desired" delta computation.
func documentBucketPostLines(lines []DocumentLine, debit bool) []PostLineInput {
	totals, err := recomputeDocumentTotals(append([]DocumentLine(nil), lines...))
	if err != nil {
		return nil
	}
	out := make([]PostLineInput, 0, len(totals.AccountOrder))
	for _, acctID := range totals.AccountOrder {
		amount := totals.BucketsByAccount[acctID]
		if debit {
			out = append(out, PostLineInput{AccountID: acctID, Debit: amount})
		} else {
			out = append(out, PostLineInput{AccountID: acctID, Credit: amount})
		}
	}
	return out
}
