package cashflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// Expense (a vendor Bill) is DRAFT → APPROVED → POSTED → {PARTIAL, PAID,
// VOID}, per spec.md §4.C9. A "paid immediately" post variant bypasses AP
// entirely: Dr Expense / Cr Bank, jumping straight to PAID with a
// synthesized ExpensePayment row.
type Expense struct {
	TenantID   string         `json:"tenant_id"`
	ID         string         `json:"id"`
	Number     string         `json:"number"`
	VendorID   string         `json:"vendor_id"`
	Date       Date           `json:"date"`
	Lines      []DocumentLine `json:"lines"`

	Subtotal  Money `json:"subtotal"`
	TaxAmount Money `json:"tax_amount"`
	Total     Money `json:"total"`

	Status                       DocumentStatus `json:"status"`
	JournalEntryID                string         `json:"journal_entry_id,omitempty"`
	LastAdjustmentJournalEntryID string         `json:"last_adjustment_journal_entry_id,omitempty"`
	VoidJournalEntryID           string         `json:"void_journal_entry_id,omitempty"`

	AmountPaid Money `json:"amount_paid"`

	CreatedByUserID string    `json:"created_by_user_id"`
	CreatedAt       time.Time `json:"created_at"`
}

func (s *Storage) SaveExpense(tx *bbolt.Tx, e *Expense) error {
	return putJSON(tx, bucketExpenses, e.TenantID, e.ID, e)
}

func (s *Storage) GetExpense(tx *bbolt.Tx, tenantID, id string) (*Expense, error) {
	var e Expense
	if err := getJSON(tx, bucketExpenses, tenantID, id, &e); err != nil {
		if err == errNotFoundInBucket {
			return nil, NewNotFoundError("expense", id)
		}
		return nil, err
	}
	return &e, nil
}

// ListExpenses returns every bill for the tenant.
func (s *Storage) ListExpenses(tx *bbolt.Tx, tenantID string) ([]*Expense, error) {
	var out []*Expense
	err := forEachTenant(tx, bucketExpenses, tenantID, func(_, v []byte) error {
		var e Expense
		if err := jsonUnmarshalBytes(v, &e); err != nil {
			return err
		}
		cp := e
		out = append(out, &cp)
		return nil
	})
	return out, err
}

// CreateExpenseInput is the request to create a new DRAFT expense (bill).
type CreateExpenseInput struct {
	TenantID        string
	VendorID        string
	Date            Date
	Lines           []DocumentLine
	CreatedByUserID string
}

func (s *Storage) CreateExpense(tx *bbolt.Tx, in CreateExpenseInput) (*Expense, error) {
	if _, err := s.GetVendor(tx, in.TenantID, in.VendorID); err != nil {
		return nil, err
	}
	for i := range in.Lines {
		in.Lines[i].ID = uuid.New().String()
	}
	totals, err := recomputeDocumentTotals(in.Lines)
	if err != nil {
		return nil, err
	}
	number, err := s.NextSequence(tx, in.TenantID, "EXPENSE")
	if err != nil {
		return nil, err
	}
	e := &Expense{
		TenantID:        in.TenantID,
		ID:              uuid.New().String(),
		Number:          number,
		VendorID:        in.VendorID,
		Date:            in.Date,
		Lines:           in.Lines,
		Subtotal:        totals.Subtotal,
		TaxAmount:       totals.TaxAmount,
		Total:           totals.Total,
		Status:          StatusDraft,
		AmountPaid:      ZeroMoney,
		CreatedByUserID: in.CreatedByUserID,
		CreatedAt:       time.Now().UTC(),
	}
	return e, s.SaveExpense(tx, e)
}

func (s *Storage) ApproveExpense(tx *bbolt.Tx, tenantID, id string) (*Expense, error) {
	e, err := s.GetExpense(tx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusDraft {
		return nil, NewStateError("only DRAFT expenses can be approved")
	}
	e.Status = StatusApproved
	return e, s.SaveExpense(tx, e)
}

// PostExpenseInput carries the write-context for posting an expense,
// including the paid-immediately variant.
type PostExpenseInput struct {
	TenantID        string
	ExpenseID       string
	UserID          string
	CorrelationID   string
	PeriodLookup    PeriodLookup
	PayImmediately  bool
	BankAccountID   string // required when PayImmediately
	PaymentDate     Date   // defaults to the expense date when zero
}

// PostExpense implements spec.md §4.C9's bill posting (mirroring invoice
// posting with Dr Expense / Cr AP), including the paid-immediately
// variant (Dr Expense / Cr Bank, straight to PAID).
func (s *Storage) PostExpense(ctx context.Context, tx *bbolt.Tx, in PostExpenseInput) (*Expense, []*OutboxEvent, error) {
	e, err := s.GetExpense(tx, in.TenantID, in.ExpenseID)
	if err != nil {
		return nil, nil, err
	}
	if e.Status != StatusDraft && e.Status != StatusApproved {
		return nil, nil, NewStateError("only DRAFT or APPROVED expenses can be posted")
	}

	company, err := s.GetCompany(tx, in.TenantID)
	if err != nil {
		return nil, nil, err
	}
	for i := range e.Lines {
		if _, err := requireAccountOfType(s, tx, in.TenantID, e.Lines[i].AccountID, "line expense", Expense); err != nil {
			return nil, nil, err
		}
	}

	if err := CheckPeriodOpen(ctx, in.PeriodLookup, in.TenantID, e.Date); err != nil {
		return nil, nil, err
	}

	totals, err := recomputeDocumentTotals(e.Lines)
	if err != nil {
		return nil, nil, err
	}
	if err := checkRoundingMatches(totals.Total, e.Total); err != nil {
		return nil, nil, err
	}

	lines := make([]PostLineInput, 0, len(totals.AccountOrder)+2)
	for _, acctID := range totals.AccountOrder {
		lines = append(lines, PostLineInput{AccountID: acctID, Debit: totals.BucketsByAccount[acctID]})
	}
	if totals.TaxAmount.IsPositive() {
		taxAccount, err := s.EnsureTaxPayableAccount(tx, in.TenantID)
		if err != nil {
			return nil, nil, err
		}
		lines = append(lines, PostLineInput{AccountID: taxAccount.ID, Debit: totals.TaxAmount})
	}

	var creditAccountID string
	if in.PayImmediately {
		bankAccount, err := requireBankAccount(s, tx, in.TenantID, in.BankAccountID, "")
		if err != nil {
			return nil, nil, err
		}
		creditAccountID = bankAccount.ID
	} else {
		apAccount, err := requireAccountOfType(s, tx, in.TenantID, company.AccountsPayableAccountID, "accounts_payable", Liability)
		if err != nil {
			return nil, nil, err
		}
		creditAccountID = apAccount.ID
	}
	lines = append(lines, PostLineInput{AccountID: creditAccountID, Credit: totals.Total})

	je, err := s.Post(tx, PostInput{
		TenantID:        in.TenantID,
		Date:            e.Date,
		Description:     "Bill " + e.Number,
		CreatedByUserID: in.UserID,
		Lines:           lines,
	})
	if err != nil {
		return nil, nil, err
	}

	e.Subtotal = totals.Subtotal
	e.TaxAmount = totals.TaxAmount
	e.Total = totals.Total
	e.JournalEntryID = je.ID

	events := []*OutboxEvent{
		NewOutboxEvent(in.TenantID, EventJournalEntryCreated, "JournalEntry", je.ID, "cashflow-api", in.CorrelationID, map[string]interface{}{"journalEntryId": je.ID}, 0),
		NewOutboxEvent(in.TenantID, EventBillPosted, "Expense", e.ID, "cashflow-api", in.CorrelationID, map[string]interface{}{"expenseId": e.ID, "total": e.Total}, 1),
	}

	if in.PayImmediately {
		paymentDate := in.PaymentDate
		if paymentDate.IsZero() {
			paymentDate = e.Date
		}
		payment := &ExpensePayment{
			TenantID:        in.TenantID,
			ID:              uuid.New().String(),
			ExpenseID:       e.ID,
			BankAccountID:   in.BankAccountID,
			Amount:          e.Total,
			Date:            paymentDate,
			JournalEntryID:  je.ID,
			CreatedByUserID: in.UserID,
			CreatedAt:       time.Now().UTC(),
		}
		if err := s.SaveExpensePayment(tx, payment); err != nil {
			return nil, nil, err
		}
		e.Status = StatusPaid
		e.AmountPaid = e.Total
		events = append(events, NewOutboxEvent(in.TenantID, EventBillPaymentRecorded, "ExpensePayment", payment.ID, "cashflow-api", in.CorrelationID, map[string]interface{}{"expensePaymentId": payment.ID, "expenseId": e.ID, "amount": payment.Amount}, 2))
	} else {
		e.Status = StatusPosted
		e.AmountPaid = ZeroMoney
	}

	if err := s.SaveExpense(tx, e); err != nil {
		return nil, nil, err
	}
	for _, ev := range events {
		if err := s.InsertOutboxEvent(tx, ev); err != nil {
			return nil, nil, err
		}
	}
	if err := s.WriteAuditLog(tx, &AuditLog{
		TenantID:      in.TenantID,
		UserID:        in.UserID,
		Action:        "expense.post",
		EntityType:    "Expense",
		EntityID:      e.ID,
		CorrelationID: in.CorrelationID,
	}); err != nil {
		return nil, nil, err
	}

	return e, events, nil
}

// RecordExpensePaymentInput is the request to settle an AP bill.
type RecordExpensePaymentInput struct {
	TenantID      string
	ExpenseID     string
	Amount        Money
	BankAccountID string
	Date          Date
	UserID        string
	CorrelationID string
}

func (s *Storage) RecordExpensePayment(tx *bbolt.Tx, in RecordExpensePaymentInput) (*ExpensePayment, []*OutboxEvent, error) {
	e, err := s.GetExpense(tx, in.TenantID, in.ExpenseID)
	if err != nil {
		return nil, nil, err
	}
	if e.Status != StatusPosted && e.Status != StatusPartial {
		return nil, nil, NewStateError("payments can only be recorded against POSTED or PARTIAL expenses")
	}

	bankAccount, err := requireBankAccount(s, tx, in.TenantID, in.BankAccountID, "")
	if err != nil {
		return nil, nil, err
	}
	existing, err := s.ExpensePaymentsForExpense(tx, in.TenantID, in.ExpenseID)
	if err != nil {
		return nil, nil, err
	}
	remaining := RemainingBalance(e.Total, nonReversedExpenseTotal(existing))
	if in.Amount.GreaterThan(remaining) {
		return nil, nil, NewValidationError("amount cannot exceed remaining balance of " + remaining.String())
	}

	company, err := s.GetCompany(tx, in.TenantID)
	if err != nil {
		return nil, nil, err
	}
	apAccount, err := requireAccountOfType(s, tx, in.TenantID, company.AccountsPayableAccountID, "accounts_payable", Liability)
	if err != nil {
		return nil, nil, err
	}

	je, err := s.Post(tx, PostInput{
		TenantID:        in.TenantID,
		Date:            in.Date,
		Description:     "Payment for bill " + e.Number,
		CreatedByUserID: in.UserID,
		Lines: []PostLineInput{
			{AccountID: apAccount.ID, Debit: in.Amount},
			{AccountID: bankAccount.ID, Credit: in.Amount},
		},
	})
	if err != nil {
		return nil, nil, err
	}

	payment := &ExpensePayment{
		TenantID:        in.TenantID,
		ID:              uuid.New().String(),
		ExpenseID:       in.ExpenseID,
		BankAccountID:   in.BankAccountID,
		Amount:          in.Amount,
		Date:            in.Date,
		JournalEntryID:  je.ID,
		CreatedByUserID: in.UserID,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.SaveExpensePayment(tx, payment); err != nil {
		return nil, nil, err
	}

	totalPaid := nonReversedExpenseTotal(append(existing, payment))
	e.AmountPaid = totalPaid
	if totalPaid.GreaterThan(e.Total) || totalPaid.Equal(e.Total) {
		e.Status = StatusPaid
	} else {
		e.Status = StatusPartial
	}
	if err := s.SaveExpense(tx, e); err != nil {
		return nil, nil, err
	}

	events := []*OutboxEvent{
		NewOutboxEvent(in.TenantID, EventJournalEntryCreated, "JournalEntry", je.ID, "cashflow-api", in.CorrelationID, map[string]interface{}{"journalEntryId": je.ID}, 0),
		NewOutboxEvent(in.TenantID, EventBillPaymentRecorded, "ExpensePayment", payment.ID, "cashflow-api", in.CorrelationID, map[string]interface{}{"expensePaymentId": payment.ID, "expenseId": e.ID, "amount": payment.Amount}, 1),
	}
	for _, ev := range events {
		if err := s.InsertOutboxEvent(tx, ev); err != nil {
			return nil, nil, err
		}
	}
	return payment, events, nil
}

func (s *Storage) VoidExpense(tx *bbolt.Tx, tenantID, expenseID, reason, userID string) (*Expense, error) {
	e, err := s.GetExpense(tx, tenantID, expenseID)
	if err != nil {
		return nil, err
	}
	if e.Status == StatusVoid {
		return nil, NewStateError("expense is already VOID")
	}
	if e.Status != StatusPosted && e.Status != StatusPartial && e.Status != StatusPaid {
		return nil, NewStateError("only POSTED/PARTIAL/PAID expenses can be voided")
	}

	payments, err := s.ExpensePaymentsForExpense(tx, tenantID, expenseID)
	if err != nil {
		return nil, err
	}
	for _, p := range payments {
		if p.ReversedAt == nil {
			return nil, NewStateError("cannot void an expense with an active (non-reversed) payment")
		}
	}

	if e.LastAdjustmentJournalEntryID != "" {
		adjJE, err := s.GetJournalEntry(tx, tenantID, e.LastAdjustmentJournalEntryID)
		if err != nil {
			return nil, err
		}
		if _, err := s.PostReversal(tx, adjJE, "superseded by void", userID, e.Date, "Reversal of adjustment for bill "+e.Number); err != nil {
			return nil, err
		}
	}

	originalJE, err := s.GetJournalEntry(tx, tenantID, e.JournalEntryID)
	if err != nil {
		return nil, err
	}
	reversalJE, err := s.PostReversal(tx, originalJE, reason, userID, e.Date, "Void of bill "+e.Number)
	if err != nil {
		return nil, err
	}

	e.Status = StatusVoid
	e.VoidJournalEntryID = reversalJE.ID
	e.LastAdjustmentJournalEntryID = ""
	return e, s.SaveExpense(tx, e)
}

// AdjustExpenseInput carries the write-context for revising a POSTED
// bill's lines in place, mirroring AdjustInvoiceInput's AR-delta pattern
// with AP standing in for AR.
type AdjustExpenseInput struct {
	TenantID  string
	ExpenseID string
	UserID    string
	Lines     []DocumentLine
}

// AdjustExpense implements spec.md §4.C9's adjustment procedure for
// bills: a delta journal entry against the prior posting, never a mutation
// of the original, per the same CANNOT_ADJUST_INVENTORY and
// active-payment guards invoice.go's AdjustInvoice enforces.
func (s *Storage) AdjustExpense(tx *bbolt.Tx, in AdjustExpenseInput) (*Expense, error) {
	e, err := s.GetExpense(tx, in.TenantID, in.ExpenseID)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusPosted && e.Status != StatusPartial && e.Status != StatusPaid {
		return nil, NewStateError("only POSTED/PARTIAL/PAID bills can be adjusted")
	}

	payments, err := s.ExpensePaymentsForExpense(tx, in.TenantID, in.ExpenseID)
	if err != nil {
		return nil, err
	}
	for _, p := range payments {
		if p.ReversedAt == nil {
			return nil, NewStateError("cannot adjust a bill with an active payment")
		}
	}
	for _, l := range e.Lines {
		if l.TrackInventory {
			return nil, NewCannotAdjustInventoryError()
		}
	}
	for _, l := range in.Lines {
		if l.TrackInventory {
			return nil, NewCannotAdjustInventoryError()
		}
	}

	if e.LastAdjustmentJournalEntryID != "" {
		priorAdjJE, err := s.GetJournalEntry(tx, in.TenantID, e.LastAdjustmentJournalEntryID)
		if err != nil {
			return nil, err
		}
		if _, err := s.PostReversal(tx, priorAdjJE, "superseded by new adjustment", in.UserID, e.Date, "Reversal of prior adjustment for bill "+e.Number); err != nil {
			return nil, err
		}
	}

	originalLines := documentBucketPostLines(e.Lines, true)

	newLines := in.Lines
	for i := range newLines {
		if newLines[i].ID == "" {
			newLines[i].ID = uuid.New().String()
		}
	}
	newTotals, err := recomputeDocumentTotals(newLines)
	if err != nil {
		return nil, err
	}
	desiredLines := documentBucketPostLines(newLines, true)

	company, err := s.GetCompany(tx, in.TenantID)
	if err != nil {
		return nil, err
	}
	apAccount, err := requireAccountOfType(s, tx, in.TenantID, company.AccountsPayableAccountID, "accounts_payable", Liability)
	if err != nil {
		return nil, err
	}
	originalLines = append(originalLines, PostLineInput{AccountID: apAccount.ID, Credit: e.Total})
	desiredLines = append(desiredLines, PostLineInput{AccountID: apAccount.ID, Credit: newTotals.Total})

	// Tax Payable moves by the tax delta too, same as AP — otherwise the
	// AP side carries subtotal+tax while the expense side only carries
	// subtotal, and a tax-rate change leaves the adjustment unbalanced.
	if e.TaxAmount.IsPositive() || newTotals.TaxAmount.IsPositive() {
		taxAccount, err := s.EnsureTaxPayableAccount(tx, in.TenantID)
		if err != nil {
			return nil, err
		}
		originalLines = append(originalLines, PostLineInput{AccountID: taxAccount.ID, Debit: e.TaxAmount})
		desiredLines = append(desiredLines, PostLineInput{AccountID: taxAccount.ID, Debit: newTotals.TaxAmount})
	}

	adjustmentLines, err := AdjustmentLines(originalLines, desiredLines)
	if err != nil {
		return nil, err
	}

	if adjustmentLines != nil {
		adjJE, err := s.Post(tx, PostInput{
			TenantID:        in.TenantID,
			Date:            e.Date,
			Description:     "Adjustment of bill " + e.Number,
			CreatedByUserID: in.UserID,
			Lines:           adjustmentLines,
		})
		if err != nil {
			return nil, err
		}
		e.LastAdjustmentJournalEntryID = adjJE.ID
	} else {
		e.LastAdjustmentJournalEntryID = ""
	}

	e.Lines = newLines
	e.Subtotal = newTotals.Subtotal
	e.TaxAmount = newTotals.TaxAmount
	e.Total = newTotals.Total
	return e, s.SaveExpense(tx, e)
}
