package cashflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// Invoice is a sales document, per spec.md §4.C9: DRAFT → APPROVED →
// POSTED → {PARTIAL, PAID, VOID}.
type Invoice struct {
	TenantID   string         `json:"tenant_id"`
	ID         string         `json:"id"`
	Number     string         `json:"number"`
	CustomerID string         `json:"customer_id"`
	Date       Date           `json:"date"`
	LocationID string         `json:"location_id,omitempty"`
	Lines      []DocumentLine `json:"lines"`
	Currency   string         `json:"currency,omitempty"`

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

func (s *Storage) SaveInvoice(tx *bbolt.Tx, inv *Invoice) error {
	return putJSON(tx, bucketInvoices, inv.TenantID, inv.ID, inv)
}

func (s *Storage) GetInvoice(tx *bbolt.Tx, tenantID, id string) (*Invoice, error) {
	var inv Invoice
	if err := getJSON(tx, bucketInvoices, tenantID, id, &inv); err != nil {
		if err == errNotFoundInBucket {
			return nil, NewNotFoundError("invoice", id)
		}
		return nil, err
	}
	return &inv, nil
}

// ListInvoices returns every invoice for the tenant.
func (s *Storage) ListInvoices(tx *bbolt.Tx, tenantID string) ([]*Invoice, error) {
	var out []*Invoice
	err := forEachTenant(tx, bucketInvoices, tenantID, func(_, v []byte) error {
		var inv Invoice
		if err := jsonUnmarshalBytes(v, &inv); err != nil {
			return err
		}
		cp := inv
		out = append(out, &cp)
		return nil
	})
	return out, err
}

// CreateInvoiceInput is the request to create a new DRAFT invoice.
type CreateInvoiceInput struct {
	TenantID        string
	CustomerID      string
	Date            Date
	LocationID      string
	Currency        string
	Lines           []DocumentLine
	CreatedByUserID string
}

// CreateInvoice stores a new DRAFT invoice, recomputing totals from its
// lines but not validating accounts (that happens at post time, per
// spec.md §4.C9).
func (s *Storage) CreateInvoice(tx *bbolt.Tx, in CreateInvoiceInput) (*Invoice, error) {
	if _, err := s.GetCustomer(tx, in.TenantID, in.CustomerID); err != nil {
		return nil, err
	}
	for i := range in.Lines {
		in.Lines[i].ID = uuid.New().String()
	}
	totals, err := recomputeDocumentTotals(in.Lines)
	if err != nil {
		return nil, err
	}
	number, err := s.NextSequence(tx, in.TenantID, "INVOICE")
	if err != nil {
		return nil, err
	}

	inv := &Invoice{
		TenantID:        in.TenantID,
		ID:              uuid.New().String(),
		Number:          number,
		CustomerID:      in.CustomerID,
		Date:            in.Date,
		LocationID:      in.LocationID,
		Currency:        in.Currency,
		Lines:           in.Lines,
		Subtotal:        totals.Subtotal,
		TaxAmount:       totals.TaxAmount,
		Total:           totals.Total,
		Status:          StatusDraft,
		AmountPaid:      ZeroMoney,
		CreatedByUserID: in.CreatedByUserID,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.SaveInvoice(tx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// ApproveInvoice transitions DRAFT → APPROVED; no other status may
// approve.
func (s *Storage) ApproveInvoice(tx *bbolt.Tx, tenantID, id string) (*Invoice, error) {
	inv, err := s.GetInvoice(tx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusDraft {
		return nil, NewStateError("only DRAFT invoices can be approved")
	}
	inv.Status = StatusApproved
	if err := s.SaveInvoice(tx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// PostInvoiceInput carries the write-context for posting, per the
// WriteContext pattern SPEC_FULL.md's design notes call for.
type PostInvoiceInput struct {
	TenantID      string
	InvoiceID     string
	UserID        string
	CorrelationID string
	PeriodLookup  PeriodLookup
}

// PostInvoice implements spec.md §4.C9's invoice posting contract inside
// the caller's open write transaction. Locking lives in the HTTP layer: the
// handler wraps this call in LockManager.WithLock on
// LockKeyForTenant(tenant, "invoice", id), taken inside that transaction.
// No per-line stock lock is taken; bbolt's serialized write transaction is
// what orders concurrent posts.
func (s *Storage) PostInvoice(ctx context.Context, tx *bbolt.Tx, in PostInvoiceInput) (*Invoice, []*OutboxEvent, error) {
	inv, err := s.GetInvoice(tx, in.TenantID, in.InvoiceID)
	if err != nil {
		return nil, nil, err
	}
	if inv.Status != StatusDraft && inv.Status != StatusApproved {
		return nil, nil, NewStateError("only DRAFT or APPROVED invoices can be posted")
	}

	company, err := s.GetCompany(tx, in.TenantID)
	if err != nil {
		return nil, nil, err
	}
	if company.BaseCurrency != "" && inv.Currency != "" && inv.Currency != company.BaseCurrency {
		return nil, nil, NewCurrencyMismatchError(company.BaseCurrency, inv.Currency)
	}

	arAccount, err := requireAccountOfType(s, tx, in.TenantID, company.AccountsReceivableAccountID, "accounts_receivable", Asset)
	if err != nil {
		return nil, nil, err
	}

	for i := range inv.Lines {
		if _, err := requireAccountOfType(s, tx, in.TenantID, inv.Lines[i].AccountID, "line income", Income); err != nil {
			return nil, nil, err
		}
	}

	if err := CheckPeriodOpen(ctx, in.PeriodLookup, in.TenantID, inv.Date); err != nil {
		return nil, nil, err
	}

	totals, err := recomputeDocumentTotals(inv.Lines)
	if err != nil {
		return nil, nil, err
	}
	if err := checkRoundingMatches(totals.Total, inv.Total); err != nil {
		return nil, nil, err
	}

	today := Today(company.TimeZoneLocation())
	cogsTotal := ZeroMoney
	var recalcFrom *Date
	var createdMoves []*StockMove

	for i := range inv.Lines {
		line := &inv.Lines[i]
		if !line.TrackInventory {
			continue
		}
		if inv.Date.After(today) {
			return nil, nil, NewFutureInventoryDateError("invoice date is in the future for a tracked-inventory line")
		}
		item, err := s.GetItem(tx, in.TenantID, line.ItemID)
		if err != nil {
			return nil, nil, err
		}
		loc, err := s.ResolveLocation(tx, in.TenantID, line.LocationID, item, company)
		if err != nil {
			return nil, nil, err
		}
		line.LocationID = loc.ID

		result, err := s.ApplyStockMove(tx, StockMoveInput{
			TenantID:        in.TenantID,
			LocationID:      loc.ID,
			ItemID:          line.ItemID,
			Date:            inv.Date,
			Type:            MoveSaleIssue,
			Direction:       DirectionOut,
			Quantity:        line.Quantity,
			ReferenceType:   "Invoice",
			ReferenceID:     inv.ID,
			CorrelationID:   in.CorrelationID,
			CreatedByUserID: in.UserID,
		})
		if err != nil {
			return nil, nil, err
		}
		cogsTotal = cogsTotal.Add(result.Move.TotalCostApplied)
		createdMoves = append(createdMoves, result.Move)
		if result.RequiresInventoryRecalcFromDate != nil {
			recalcFrom = result.RequiresInventoryRecalcFromDate
		}
	}

	lines := make([]PostLineInput, 0, len(totals.AccountOrder)+4)
	lines = append(lines, PostLineInput{AccountID: arAccount.ID, Debit: totals.Total})
	for _, acctID := range totals.AccountOrder {
		lines = append(lines, PostLineInput{AccountID: acctID, Credit: totals.BucketsByAccount[acctID]})
	}
	if totals.TaxAmount.IsPositive() {
		taxAccount, err := s.EnsureTaxPayableAccount(tx, in.TenantID)
		if err != nil {
			return nil, nil, err
		}
		lines = append(lines, PostLineInput{AccountID: taxAccount.ID, Credit: totals.TaxAmount})
	}
	if cogsTotal.IsPositive() {
		cogsAccount, err := requireAccountOfType(s, tx, in.TenantID, company.COGSAccountID, "cogs", Expense)
		if err != nil {
			return nil, nil, err
		}
		inventoryAccount, err := requireAccountOfType(s, tx, in.TenantID, company.InventoryAssetAccountID, "inventory_asset", Asset)
		if err != nil {
			return nil, nil, err
		}
		lines = append(lines, PostLineInput{AccountID: cogsAccount.ID, Debit: cogsTotal})
		lines = append(lines, PostLineInput{AccountID: inventoryAccount.ID, Credit: cogsTotal})
	}

	je, err := s.Post(tx, PostInput{
		TenantID:        in.TenantID,
		Date:            inv.Date,
		Description:     "Invoice " + inv.Number,
		LocationID:      inv.LocationID,
		CreatedByUserID: in.UserID,
		Lines:           lines,
	})
	if err != nil {
		return nil, nil, err
	}

	for _, mv := range createdMoves {
		if err := s.LinkStockMoveJournalEntry(tx, mv, je.ID); err != nil {
			return nil, nil, err
		}
	}

	inv.Status = StatusPosted
	inv.Subtotal = totals.Subtotal
	inv.TaxAmount = totals.TaxAmount
	inv.Total = totals.Total
	inv.JournalEntryID = je.ID
	inv.AmountPaid = ZeroMoney
	if err := s.SaveInvoice(tx, inv); err != nil {
		return nil, nil, err
	}

	var events []*OutboxEvent
	seq := int64(0)
	next := func(eventType, aggregateType, aggregateID string, payload map[string]interface{}) {
		e := NewOutboxEvent(in.TenantID, eventType, aggregateType, aggregateID, "cashflow-api", in.CorrelationID, payload, seq)
		seq++
		events = append(events, e)
	}
	next(EventJournalEntryCreated, "JournalEntry", je.ID, map[string]interface{}{"journalEntryId": je.ID})
	next(EventInvoicePosted, "Invoice", inv.ID, map[string]interface{}{"invoiceId": inv.ID, "total": inv.Total})
	if recalcFrom != nil {
		next(EventInventoryRecalcRequested, "Invoice", inv.ID, map[string]interface{}{"fromDate": recalcFrom.String()})
	}
	for _, e := range events {
		if err := s.InsertOutboxEvent(tx, e); err != nil {
			return nil, nil, err
		}
	}

	if err := s.WriteAuditLog(tx, &AuditLog{
		TenantID:       in.TenantID,
		UserID:         in.UserID,
		Action:         "invoice.post",
		EntityType:     "Invoice",
		EntityID:       inv.ID,
		CorrelationID:  in.CorrelationID,
	}); err != nil {
		return nil, nil, err
	}

	return inv, events, nil
}

// VoidInvoice implements spec.md §4.C9's void procedure.
func (s *Storage) VoidInvoice(tx *bbolt.Tx, tenantID, invoiceID, reason, userID string) (*Invoice, error) {
	inv, err := s.GetInvoice(tx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status == StatusVoid {
		return nil, NewStateError("invoice is already VOID")
	}
	if inv.Status != StatusPosted && inv.Status != StatusPartial && inv.Status != StatusPaid {
		return nil, NewStateError("only POSTED/PARTIAL/PAID invoices can be voided")
	}

	payments, err := s.PaymentsForInvoice(tx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	for _, p := range payments {
		if p.ReversedAt == nil {
			return nil, NewStateError("cannot void an invoice with an active (non-reversed) payment")
		}
	}

	creditNotes, err := s.CreditNotesForInvoice(tx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	for _, cn := range creditNotes {
		if cn.Status == StatusPosted {
			return nil, NewStateError("cannot void an invoice with a POSTED credit note linked")
		}
	}

	if inv.LastAdjustmentJournalEntryID != "" {
		adjJE, err := s.GetJournalEntry(tx, tenantID, inv.LastAdjustmentJournalEntryID)
		if err != nil {
			return nil, err
		}
		if _, err := s.PostReversal(tx, adjJE, "superseded by void", userID, inv.Date, "Reversal of adjustment for invoice "+inv.Number); err != nil {
			return nil, err
		}
	}

	originalJE, err := s.GetJournalEntry(tx, tenantID, inv.JournalEntryID)
	if err != nil {
		return nil, err
	}
	reversalJE, err := s.PostReversal(tx, originalJE, reason, userID, inv.Date, "Void of invoice "+inv.Number)
	if err != nil {
		return nil, err
	}

	moves, err := s.MovesByReference(tx, tenantID, "Invoice", invoiceID)
	if err != nil {
		return nil, err
	}
	for _, mv := range moves {
		if mv.Type != MoveSaleIssue {
			continue
		}
		result, err := s.ApplyStockMove(tx, StockMoveInput{
			TenantID:        tenantID,
			LocationID:      mv.LocationID,
			ItemID:          mv.ItemID,
			Date:            inv.Date,
			Type:            MoveSaleReturn,
			Direction:       DirectionIn,
			Quantity:        mv.Quantity,
			UnitCostApplied: mv.UnitCostApplied,
			ReferenceType:   "Invoice",
			ReferenceID:     invoiceID,
			CreatedByUserID: userID,
		})
		if err != nil {
			return nil, err
		}
		if err := s.LinkStockMoveJournalEntry(tx, result.Move, reversalJE.ID); err != nil {
			return nil, err
		}
	}

	inv.Status = StatusVoid
	inv.VoidJournalEntryID = reversalJE.ID
	inv.LastAdjustmentJournalEntryID = ""
	return inv, s.SaveInvoice(tx, inv)
}

// AdjustInvoiceInput carries the desired new line state for a posted-edit.
type AdjustInvoiceInput struct {
	TenantID  string
	InvoiceID string
	UserID    string
	Lines     []DocumentLine
}

// AdjustInvoice implements spec.md §4.C9's posted-edit procedure.
func (s *Storage) AdjustInvoice(tx *bbolt.Tx, in AdjustInvoiceInput) (*Invoice, error) {
	inv, err := s.GetInvoice(tx, in.TenantID, in.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusPosted {
		return nil, NewStateError("only POSTED invoices can be adjusted")
	}

	payments, err := s.PaymentsForInvoice(tx, in.TenantID, in.InvoiceID)
	if err != nil {
		return nil, err
	}
	for _, p := range payments {
		if p.ReversedAt == nil {
			return nil, NewStateError("cannot adjust an invoice with an active payment")
		}
	}

	creditNotes, err := s.CreditNotesForInvoice(tx, in.TenantID, in.InvoiceID)
	if err != nil {
		return nil, err
	}
	for _, cn := range creditNotes {
		if cn.Status == StatusPosted {
			return nil, NewStateError("cannot adjust an invoice with a POSTED credit note linked")
		}
	}

	for _, l := range inv.Lines {
		if l.TrackInventory {
			return nil, NewCannotAdjustInventoryError()
		}
	}
	for _, l := range in.Lines {
		if l.TrackInventory {
			return nil, NewCannotAdjustInventoryError()
		}
	}

	if inv.LastAdjustmentJournalEntryID != "" {
		priorAdjJE, err := s.GetJournalEntry(tx, in.TenantID, inv.LastAdjustmentJournalEntryID)
		if err != nil {
			return nil, err
		}
		if _, err := s.PostReversal(tx, priorAdjJE, "superseded by new adjustment", in.UserID, inv.Date, "Reversal of prior adjustment for invoice "+inv.Number); err != nil {
			return nil, err
		}
	}

	originalLines := documentLinesToPostLines(inv.Lines)

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
	desiredLines := documentLinesToPostLines(newLines)

	company, err := s.GetCompany(tx, in.TenantID)
	if err != nil {
		return nil, err
	}
	arAccount, err := requireAccountOfType(s, tx, in.TenantID, company.AccountsReceivableAccountID, "accounts_receivable", Asset)
	if err != nil {
		return nil, err
	}
	// AR moves by the total delta too: fold it into both sides so
	// AdjustmentLines nets it like any other account.
	originalLines = append(originalLines, PostLineInput{AccountID: arAccount.ID, Debit: inv.Total})
	desiredLines = append(desiredLines, PostLineInput{AccountID: arAccount.ID, Debit: newTotals.Total})

	// Tax Payable moves by the tax delta too, same as AR — otherwise the
	// AR side carries subtotal+tax while the income side only carries
	// subtotal, and a tax-rate change leaves the adjustment unbalanced.
	if inv.TaxAmount.IsPositive() || newTotals.TaxAmount.IsPositive() {
		taxAccount, err := s.EnsureTaxPayableAccount(tx, in.TenantID)
		if err != nil {
			return nil, err
		}
		originalLines = append(originalLines, PostLineInput{AccountID: taxAccount.ID, Credit: inv.TaxAmount})
		desiredLines = append(desiredLines, PostLineInput{AccountID: taxAccount.ID, Credit: newTotals.TaxAmount})
	}

	adjustmentLines, err := AdjustmentLines(originalLines, desiredLines)
	if err != nil {
		return nil, err
	}

	if adjustmentLines != nil {
		adjJE, err := s.Post(tx, PostInput{
			TenantID:        in.TenantID,
			Date:            inv.Date,
			Description:     "Adjustment of invoice " + inv.Number,
			CreatedByUserID: in.UserID,
			Lines:           adjustmentLines,
		})
		if err != nil {
			return nil, err
		}
		inv.LastAdjustmentJournalEntryID = adjJE.ID
	} else {
		inv.LastAdjustmentJournalEntryID = ""
	}

	inv.Lines = newLines
	inv.Subtotal = newTotals.Subtotal
	inv.TaxAmount = newTotals.TaxAmount
	inv.Total = newTotals.Total
	return inv, s.SaveInvoice(tx, inv)
}

// documentLinesToPostLines maps an invoice's lines to the credit side of
// the AR/income split used for adjustment-delta computation (the AR debit
// side is added by the caller, since it needs the document's grand total,
// not per-line amounts).
func documentLinesToPostLines(lines []DocumentLine) []PostLineInput {
	return documentBucketPostLines(lines, false)
}
