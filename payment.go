package cashflow

import (
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// Payment is a receipt against a POSTED/PARTIAL/PAID invoice, per spec.md
// §4.C9: "created POSTED with JE; reversal stamps reversedAt +
// reversalJournalEntryId and recomputes parent document status from
// non-reversed payments".
type Payment struct {
	TenantID        string     `json:"tenant_id"`
	ID              string     `json:"id"`
	InvoiceID       string     `json:"invoice_id"`
	BankAccountID   string     `json:"bank_account_id"`
	Amount          Money      `json:"amount"`
	Date            Date       `json:"date"`
	PaymentMode     string     `json:"payment_mode,omitempty"`
	AttachmentURI   string     `json:"attachment_uri,omitempty"`
	JournalEntryID  string     `json:"journal_entry_id"`

	ReversedAt             *time.Time `json:"reversed_at,omitempty"`
	ReversalJournalEntryID string     `json:"reversal_journal_entry_id,omitempty"`
	ReversalReason         string     `json:"reversal_reason,omitempty"`

	CreatedByUserID string    `json:"created_by_user_id"`
	CreatedAt       time.Time `json:"created_at"`
}

func (s *Storage) SavePayment(tx *bbolt.Tx, p *Payment) error {
	return putJSON(tx, bucketPayments, p.TenantID, p.ID, p)
}

func (s *Storage) GetPayment(tx *bbolt.Tx, tenantID, id string) (*Payment, error) {
	var p Payment
	if err := getJSON(tx, bucketPayments, tenantID, id, &p); err != nil {
		if err == errNotFoundInBucket {
			return nil, NewNotFoundError("payment", id)
		}
		return nil, err
	}
	return &p, nil
}

// PaymentsForInvoice returns every payment row referencing invoiceID, in
// key (id) order, which is not creation order.
func (s *Storage) PaymentsForInvoice(tx *bbolt.Tx, tenantID, invoiceID string) ([]*Payment, error) {
	var out []*Payment
	err := forEachTenant(tx, bucketPayments, tenantID, func(_, v []byte) error {
		var p Payment
		if err := jsonUnmarshalBytes(v, &p); err != nil {
			return err
		}
		if p.InvoiceID == invoiceID {
			cp := p
			out = append(out, &cp)
		}
		return nil
	})
	return out, err
}

// ListSalesPayments returns every invoice payment for the tenant,
// backing the read-only `GET /sales/payments` endpoint.
func (s *Storage) ListSalesPayments(tx *bbolt.Tx, tenantID string) ([]*Payment, error) {
	var out []*Payment
	err := forEachTenant(tx, bucketPayments, tenantID, func(_, v []byte) error {
		var p Payment
		if err := jsonUnmarshalBytes(v, &p); err != nil {
			return err
		}
		cp := p
		out = append(out, &cp)
		return nil
	})
	return out, err
}

func nonReversedTotal(payments []*Payment) Money {
	total := ZeroMoney
	for _, p := range payments {
		if p.ReversedAt == nil {
			total = total.Add(p.Amount)
		}
	}
	return total
}

// RecordInvoicePaymentInput is the request to record a payment against an
// invoice.
type RecordInvoicePaymentInput struct {
	TenantID        string
	InvoiceID       string
	Amount          Money
	BankAccountID   string
	Date            Date
	PaymentMode     string
	PendingProofID  string
	UserID          string
	CorrelationID   string
}

// RecordInvoicePayment implements spec.md §4.C9's payment-recording
// procedure.
func (s *Storage) RecordInvoicePayment(tx *bbolt.Tx, in RecordInvoicePaymentInput) (*Payment, []*OutboxEvent, error) {
	inv, err := s.GetInvoice(tx, in.TenantID, in.InvoiceID)
	if err != nil {
		return nil, nil, err
	}
	if inv.Status != StatusPosted && inv.Status != StatusPartial {
		return nil, nil, NewStateError("payments can only be recorded against POSTED or PARTIAL invoices")
	}

	bankAccount, err := requireBankAccount(s, tx, in.TenantID, in.BankAccountID, in.PaymentMode)
	if err != nil {
		return nil, nil, err
	}

	existing, err := s.PaymentsForInvoice(tx, in.TenantID, in.InvoiceID)
	if err != nil {
		return nil, nil, err
	}
	remaining := RemainingBalance(inv.Total, nonReversedTotal(existing))
	if in.Amount.GreaterThan(remaining) {
		return nil, nil, NewValidationError("amount cannot exceed remaining balance of " + remaining.String())
	}

	company, err := s.GetCompany(tx, in.TenantID)
	if err != nil {
		return nil, nil, err
	}
	arAccount, err := requireAccountOfType(s, tx, in.TenantID, company.AccountsReceivableAccountID, "accounts_receivable", Asset)
	if err != nil {
		return nil, nil, err
	}

	je, err := s.Post(tx, PostInput{
		TenantID:        in.TenantID,
		Date:            in.Date,
		Description:     "Payment for invoice " + inv.Number,
		CreatedByUserID: in.UserID,
		Lines: []PostLineInput{
			{AccountID: bankAccount.ID, Debit: in.Amount},
			{AccountID: arAccount.ID, Credit: in.Amount},
		},
	})
	if err != nil {
		return nil, nil, err
	}

	payment := &Payment{
		TenantID:        in.TenantID,
		ID:              uuid.New().String(),
		InvoiceID:       in.InvoiceID,
		BankAccountID:   in.BankAccountID,
		Amount:          in.Amount,
		Date:            in.Date,
		PaymentMode:     in.PaymentMode,
		JournalEntryID:  je.ID,
		CreatedByUserID: in.UserID,
		CreatedAt:       time.Now().UTC(),
	}
	// spec.md §4.C9 calls for resolving PendingProofID against an
	// invoice.pendingPaymentProofs registry and marking the match "used".
	// Attachment storage is out of scope here (see spec.md Non-goals), so
	// there is no registry to resolve against or validate existence in;
	// the id is recorded as the attachment reference as-is.
	if in.PendingProofID != "" {
		payment.AttachmentURI = in.PendingProofID
	}
	if err := s.SavePayment(tx, payment); err != nil {
		return nil, nil, err
	}

	totalPaid := nonReversedTotal(append(existing, payment))
	inv.AmountPaid = totalPaid
	if totalPaid.GreaterThan(inv.Total) || totalPaid.Equal(inv.Total) {
		inv.Status = StatusPaid
	} else {
		inv.Status = StatusPartial
	}
	if err := s.SaveInvoice(tx, inv); err != nil {
		return nil, nil, err
	}

	events := []*OutboxEvent{
		NewOutboxEvent(in.TenantID, EventJournalEntryCreated, "JournalEntry", je.ID, "cashflow-api", in.CorrelationID, map[string]interface{}{"journalEntryId": je.ID}, 0),
		NewOutboxEvent(in.TenantID, EventPaymentRecorded, "Payment", payment.ID, "cashflow-api", in.CorrelationID, map[string]interface{}{"paymentId": payment.ID, "invoiceId": inv.ID, "amount": payment.Amount}, 1),
	}
	for _, e := range events {
		if err := s.InsertOutboxEvent(tx, e); err != nil {
			return nil, nil, err
		}
	}
	if err := s.WriteAuditLog(tx, &AuditLog{
		TenantID:      in.TenantID,
		UserID:        in.UserID,
		Action:        "invoice.payment.record",
		EntityType:    "Payment",
		EntityID:      payment.ID,
		CorrelationID: in.CorrelationID,
	}); err != nil {
		return nil, nil, err
	}

	return payment, events, nil
}

// ReverseInvoicePayment implements spec.md §4.C9's payment reversal
// procedure.
func (s *Storage) ReverseInvoicePayment(tx *bbolt.Tx, tenantID, paymentID, reason, userID, correlationID string) (*Payment, []*OutboxEvent, error) {
	payment, err := s.GetPayment(tx, tenantID, paymentID)
	if err != nil {
		return nil, nil, err
	}
	if payment.ReversedAt != nil {
		return nil, nil, NewStateError("payment is already reversed")
	}

	originalJE, err := s.GetJournalEntry(tx, tenantID, payment.JournalEntryID)
	if err != nil {
		return nil, nil, err
	}
	reversalJE, err := s.PostReversal(tx, originalJE, reason, userID, payment.Date, "Reversal of payment "+payment.ID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	payment.ReversedAt = &now
	payment.ReversalJournalEntryID = reversalJE.ID
	payment.ReversalReason = reason
	if err := s.SavePayment(tx, payment); err != nil {
		return nil, nil, err
	}

	inv, err := s.GetInvoice(tx, tenantID, payment.InvoiceID)
	if err != nil {
		return nil, nil, err
	}
	allPayments, err := s.PaymentsForInvoice(tx, tenantID, payment.InvoiceID)
	if err != nil {
		return nil, nil, err
	}
	totalPaid := nonReversedTotal(allPayments)
	inv.AmountPaid = totalPaid
	switch {
	case totalPaid.IsZero():
		inv.Status = StatusPosted
	case totalPaid.GreaterThan(inv.Total) || totalPaid.Equal(inv.Total):
		inv.Status = StatusPaid
	default:
		inv.Status = StatusPartial
	}
	if err := s.SaveInvoice(tx, inv); err != nil {
		return nil, nil, err
	}

	events := []*OutboxEvent{
		NewOutboxEvent(tenantID, EventJournalEntryCreated, "JournalEntry", reversalJE.ID, "cashflow-api", correlationID, map[string]interface{}{"journalEntryId": reversalJE.ID}, 0),
		NewOutboxEvent(tenantID, EventJournalEntryReversed, "JournalEntry", originalJE.ID, "cashflow-api", correlationID, map[string]interface{}{"journalEntryId": originalJE.ID, "reversalJournalEntryId": reversalJE.ID}, 1),
		NewOutboxEvent(tenantID, EventPaymentReversed, "Payment", payment.ID, "cashflow-api", correlationID, map[string]interface{}{"paymentId": payment.ID}, 2),
	}
	for _, e := range events {
		if err := s.InsertOutboxEvent(tx, e); err != nil {
			return nil, nil, err
		}
	}

	return payment, events, nil
}

// ExpensePayment records settlement of an Expense (Bill), mirroring
// Payment but against AP instead of AR.
type ExpensePayment struct {
	TenantID        string     `json:"tenant_id"`
	ID              string     `json:"id"`
	ExpenseID       string     `json:"expense_id"`
	BankAccountID   string     `json:"bank_account_id"`
	Amount          Money      `json:"amount"`
	Date            Date       `json:"date"`
	JournalEntryID  string     `json:"journal_entry_id"`

	ReversedAt             *time.Time `json:"reversed_at,omitempty"`
	ReversalJournalEntryID string     `json:"reversal_journal_entry_id,omitempty"`
	ReversalReason         string     `json:"reversal_reason,omitempty"`

	CreatedByUserID string    `json:"created_by_user_id"`
	CreatedAt       time.Time `json:"created_at"`
}

func (s *Storage) SaveExpensePayment(tx *bbolt.Tx, p *ExpensePayment) error {
	return putJSON(tx, bucketExpensePayments, p.TenantID, p.ID, p)
}

func (s *Storage) GetExpensePayment(tx *bbolt.Tx, tenantID, id string) (*ExpensePayment, error) {
	var p ExpensePayment
	if err := getJSON(tx, bucketExpensePayments, tenantID, id, &p); err != nil {
		if err == errNotFoundInBucket {
			return nil, NewNotFoundError("expense payment", id)
		}
		return nil, err
	}
	return &p, nil
}

func (s *Storage) ExpensePaymentsForExpense(tx *bbolt.Tx, tenantID, expenseID string) ([]*ExpensePayment, error) {
	var out []*ExpensePayment
	err := forEachTenant(tx, bucketExpensePayments, tenantID, func(_, v []byte) error {
		var p ExpensePayment
		if err := jsonUnmarshalBytes(v, &p); err != nil {
			return err
		}
		if p.ExpenseID == expenseID {
			cp := p
			out = append(out, &cp)
		}
		return nil
	})
	return out, err
}

// ListExpensePayments returns every bill payment for the tenant, one
// half of the read-only `GET /purchases/payments` endpoint.
func (s *Storage) ListExpensePayments(tx *bbolt.Tx, tenantID string) ([]*ExpensePayment, error) {
	var out []*ExpensePayment
	err := forEachTenant(tx, bucketExpensePayments, tenantID, func(_, v []byte) error {
		var p ExpensePayment
		if err := jsonUnmarshalBytes(v, &p); err != nil {
			return err
		}
		cp := p
		out = append(out, &cp)
		return nil
	})
	return out, err
}

func nonReversedExpenseTotal(payments []*ExpensePayment) Money {
	total := ZeroMoney
	for _, p := range payments {
		if p.ReversedAt == nil {
			total = total.Add(p.Amount)
		}
	}
	return total
}

// PurchaseBillPayment records settlement of a PurchaseBill.
type PurchaseBillPayment struct {
	TenantID        string     `json:"tenant_id"`
	ID              string     `json:"id"`
	PurchaseBillID  string     `json:"purchase_bill_id"`
	BankAccountID   string     `json:"bank_account_id"`
	Amount          Money      `json:"amount"`
	Date            Date       `json:"date"`
	JournalEntryID  string     `json:"journal_entry_id"`

	ReversedAt             *time.Time `json:"reversed_at,omitempty"`
	ReversalJournalEntryID string     `json:"reversal_journal_entry_id,omitempty"`
	ReversalReason         string     `json:"reversal_reason,omitempty"`

	CreatedByUserID string    `json:"created_by_user_id"`
	CreatedAt       time.Time `json:"created_at"`
}

func (s *Storage) SavePurchaseBillPayment(tx *bbolt.Tx, p *PurchaseBillPayment) error {
	return putJSON(tx, bucketPurchaseBillPayments, p.TenantID, p.ID, p)
}

func (s *Storage) GetPurchaseBillPayment(tx *bbolt.Tx, tenantID, id string) (*PurchaseBillPayment, error) {
	var p PurchaseBillPayment
	if err := getJSON(tx, bucketPurchaseBillPayments, tenantID, id, &p); err != nil {
		if err == errNotFoundInBucket {
			return nil, NewNotFoundError("purchase bill payment", id)
		}
		return nil, err
	}
	return &p, nil
}

func (s *Storage) PurchaseBillPaymentsForBill(tx *bbolt.Tx, tenantID, billID string) ([]*PurchaseBillPayment, error) {
	var out []*PurchaseBillPayment
	err := forEachTenant(tx, bucketPurchaseBillPayments, tenantID, func(_, v []byte) error {
		var p PurchaseBillPayment
		if err := jsonUnmarshalBytes(v, &p); err != nil {
			return err
		}
		if p.PurchaseBillID == billID {
			cp := p
			out = append(out, &cp)
		}
		return nil
	})
	return out, err
}

// ListPurchaseBillPayments returns every purchase-bill payment for the
// tenant, the other half of `GET /purchases/payments`.
func (s *Storage) ListPurchaseBillPayments(tx *bbolt.Tx, tenantID string) ([]*PurchaseBillPayment, error) {
	var out []*PurchaseBillPayment
	err := forEachTenant(tx, bucketPurchaseBillPayments, tenantID, func(_, v []byte) error {
		var p PurchaseBillPayment
		if err := jsonUnmarshalBytes(v, &p); err != nil {
			return err
		}
		cp := p
		out = append(out, &cp)
		return nil
	})
	return out, err
}

func nonReversedPurchaseBillTotal(payments []*PurchaseBillPayment) Money {
	total := ZeroMoney
	for _, p := range payments {
		if p.ReversedAt == nil {
			total = total.Add(p.Amount)
		}
	}
	return total
}

// CreditNoteRefund records a cash refund against a POSTED CreditNote,
// reducing its remaining credit balance, per spec.md §4.C9.
type CreditNoteRefund struct {
	TenantID        string    `json:"tenant_id"`
	ID              string    `json:"id"`
	CreditNoteID    string    `json:"credit_note_id"`
	BankAccountID   string    `json:"bank_account_id"`
	Amount          Money     `json:"amount"`
	Date            Date      `json:"date"`
	JournalEntryID  string    `json:"journal_entry_id"`
	CreatedByUserID string    `json:"created_by_user_id"`
	CreatedAt       time.Time `json:"created_at"`
}

func (s *Storage) SaveCreditNoteRefund(tx *bbolt.Tx, r *CreditNoteRefund) error {
	return putJSON(tx, bucketCreditNoteRefunds, r.TenantID, r.ID, r)
}

func (s *Storage) CreditNoteRefundsForNote(tx *bbolt.Tx, tenantID, creditNoteID string) ([]*CreditNoteRefund, error) {
	var out []*CreditNoteRefund
	err := forEachTenant(tx, bucketCreditNoteRefunds, tenantID, func(_, v []byte) error {
		var r CreditNoteRefund
		if err := jsonUnmarshalBytes(v, &r); err != nil {
			return err
		}
		if r.CreditNoteID == creditNoteID {
			cp := r
			out = append(out, &cp)
		}
		return nil
	})
	return out, err
}

func refundTotal(refunds []*CreditNoteRefund) Money {
	total := ZeroMoney
	for _, r := range refunds {
		total = total.Add(r.Amount)
	}
	return total
}

// RecordCreditNoteRefundInput is the request to refund cash against a
// posted credit note.
type RecordCreditNoteRefundInput struct {
	TenantID      string
	CreditNoteID  string
	Amount        Money
	BankAccountID string
	Date          Date
	UserID        string
	CorrelationID string
}

func (s *Storage) RecordCreditNoteRefund(tx *bbolt.Tx, in RecordCreditNoteRefundInput) (*CreditNoteRefund, error) {
	cn, err := s.GetCreditNote(tx, in.TenantID, in.CreditNoteID)
	if err != nil {
		return nil, err
	}
	if cn.Status != StatusPosted {
		return nil, NewStateError("refunds are only allowed against a POSTED credit note")
	}

	existing, err := s.CreditNoteRefundsForNote(tx, in.TenantID, in.CreditNoteID)
	if err != nil {
		return nil, err
	}
	remaining := RemainingBalance(cn.Total, refundTotal(existing))
	if in.Amount.GreaterThan(remaining) {
		return nil, NewValidationError("refund amount cannot exceed remaining credit balance of " + remaining.String())
	}

	bankAccount, err := requireBankAccount(s, tx, in.TenantID, in.BankAccountID, "")
	if err != nil {
		return nil, err
	}
	company, err := s.GetCompany(tx, in.TenantID)
	if err != nil {
		return nil, err
	}
	arAccount, err := requireAccountOfType(s, tx, in.TenantID, company.AccountsReceivableAccountID, "accounts_receivable", Asset)
	if err != nil {
		return nil, err
	}

	je, err := s.Post(tx, PostInput{
		TenantID:        in.TenantID,
		Date:            in.Date,
		Description:     "Refund for credit note " + cn.Number,
		CreatedByUserID: in.UserID,
		Lines: []PostLineInput{
			{AccountID: arAccount.ID, Debit: in.Amount},
			{AccountID: bankAccount.ID, Credit: in.Amount},
		},
	})
	if err != nil {
		return nil, err
	}

	refund := &CreditNoteRefund{
		TenantID:        in.TenantID,
		ID:              uuid.New().String(),
		CreditNoteID:    in.CreditNoteID,
		BankAccountID:   in.BankAccountID,
		Amount:          in.Amount,
		Date:            in.Date,
		JournalEntryID:  je.ID,
		CreatedByUserID: in.UserID,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.SaveCreditNoteRefund(tx, refund); err != nil {
		return nil, err
	}
	if err := s.InsertOutboxEvent(tx, NewOutboxEvent(in.TenantID, EventJournalEntryCreated, "JournalEntry", je.ID, "cashflow-api", in.CorrelationID, map[string]interface{}{"journalEntryId": je.ID}, 0)); err != nil {
		return nil, err
	}
	return refund, nil
}
