package cashflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// CreditNote is DRAFT → APPROVED → POSTED → {VOID}, per spec.md §4.C9.
// Refunds and invoice-application are allowed only while POSTED.
type CreditNote struct {
	TenantID   string         `json:"tenant_id"`
	ID         string         `json:"id"`
	Number     string         `json:"number"`
	CustomerID string         `json:"customer_id"`
	InvoiceID  string         `json:"invoice_id,omitempty"` // source invoice, when applicable
	Date       Date           `json:"date"`
	Lines      []DocumentLine `json:"lines"`

	Subtotal  Money `json:"subtotal"`
	TaxAmount Money `json:"tax_amount"`
	Total     Money `json:"total"`

	Status         DocumentStatus `json:"status"`
	JournalEntryID string         `json:"journal_entry_id,omitempty"`
	VoidJournalEntryID string     `json:"void_journal_entry_id,omitempty"`

	CreatedByUserID string    `json:"created_by_user_id"`
	CreatedAt       time.Time `json:"created_at"`
}

func (s *Storage) SaveCreditNote(tx *bbolt.Tx, cn *CreditNote) error {
	return putJSON(tx, bucketCreditNotes, cn.TenantID, cn.ID, cn)
}

func (s *Storage) GetCreditNote(tx *bbolt.Tx, tenantID, id string) (*CreditNote, error) {
	var cn CreditNote
	if err := getJSON(tx, bucketCreditNotes, tenantID, id, &cn); err != nil {
		if err == errNotFoundInBucket {
			return nil, NewNotFoundError("credit note", id)
		}
		return nil, err
	}
	return &cn, nil
}

// ListCreditNotes returns every credit note for the tenant.
func (s *Storage) ListCreditNotes(tx *bbolt.Tx, tenantID string) ([]*CreditNote, error) {
	var out []*CreditNote
	err := forEachTenant(tx, bucketCreditNotes, tenantID, func(_, v []byte) error {
		var cn CreditNote
		if err := jsonUnmarshalBytes(v, &cn); err != nil {
			return err
		}
		cp := cn
		out = append(out, &cp)
		return nil
	})
	return out, err
}

// CreditNotesForInvoice returns every credit note referencing invoiceID,
// used by invoice void/adjust to check for a linked POSTED credit note.
func (s *Storage) CreditNotesForInvoice(tx *bbolt.Tx, tenantID, invoiceID string) ([]*CreditNote, error) {
	var out []*CreditNote
	err := forEachTenant(tx, bucketCreditNotes, tenantID, func(_, v []byte) error {
		var cn CreditNote
		if err := jsonUnmarshalBytes(v, &cn); err != nil {
			return err
		}
		if cn.InvoiceID == invoiceID {
			cp := cn
			out = append(out, &cp)
		}
		return nil
	})
	return out, err
}

// CreateCreditNoteInput is the request to create a new DRAFT credit note.
type CreateCreditNoteInput struct {
	TenantID        string
	CustomerID      string
	InvoiceID       string
	Date            Date
	Lines           []DocumentLine
	CreatedByUserID string
}

func (s *Storage) CreateCreditNote(tx *bbolt.Tx, in CreateCreditNoteInput) (*CreditNote, error) {
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
	number, err := s.NextSequence(tx, in.TenantID, "CREDIT_NOTE")
	if err != nil {
		return nil, err
	}
	cn := &CreditNote{
		TenantID:        in.TenantID,
		ID:              uuid.New().String(),
		Number:          number,
		CustomerID:      in.CustomerID,
		InvoiceID:       in.InvoiceID,
		Date:            in.Date,
		Lines:           in.Lines,
		Subtotal:        totals.Subtotal,
		TaxAmount:       totals.TaxAmount,
		Total:           totals.Total,
		Status:          StatusDraft,
		CreatedByUserID: in.CreatedByUserID,
		CreatedAt:       time.Now().UTC(),
	}
	return cn, s.SaveCreditNote(tx, cn)
}

func (s *Storage) ApproveCreditNote(tx *bbolt.Tx, tenantID, id string) (*CreditNote, error) {
	cn, err := s.GetCreditNote(tx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if cn.Status != StatusDraft {
		return nil, NewStateError("only DRAFT credit notes can be approved")
	}
	cn.Status = StatusApproved
	return cn, s.SaveCreditNote(tx, cn)
}

// PostCreditNoteInput carries the write-context for posting a credit
// note.
type PostCreditNoteInput struct {
	TenantID      string
	CreditNoteID  string
	UserID        string
	CorrelationID string
	PeriodLookup  PeriodLookup
}

// PostCreditNote implements spec.md §4.C9's credit note posting
// procedure, including FIFO per-location stock return allocation.
func (s *Storage) PostCreditNote(ctx context.Context, tx *bbolt.Tx, in PostCreditNoteInput) (*CreditNote, []*OutboxEvent, error) {
	cn, err := s.GetCreditNote(tx, in.TenantID, in.CreditNoteID)
	if err != nil {
		return nil, nil, err
	}
	if cn.Status != StatusDraft && cn.Status != StatusApproved {
		return nil, nil, NewStateError("only DRAFT or APPROVED credit notes can be posted")
	}

	company, err := s.GetCompany(tx, in.TenantID)
	if err != nil {
		return nil, nil, err
	}
	arAccount, err := requireAccountOfType(s, tx, in.TenantID, company.AccountsReceivableAccountID, "accounts_receivable", Asset)
	if err != nil {
		return nil, nil, err
	}
	for i := range cn.Lines {
		if _, err := requireAccountOfType(s, tx, in.TenantID, cn.Lines[i].AccountID, "line income", Income); err != nil {
			return nil, nil, err
		}
	}

	if err := CheckPeriodOpen(ctx, in.PeriodLookup, in.TenantID, cn.Date); err != nil {
		return nil, nil, err
	}

	totals, err := recomputeDocumentTotals(cn.Lines)
	if err != nil {
		return nil, nil, err
	}
	if err := checkRoundingMatches(totals.Total, cn.Total); err != nil {
		return nil, nil, err
	}

	restockTotal := ZeroMoney
	var createdMoves []*StockMove

	if cn.InvoiceID != "" {
		for i := range cn.Lines {
			line := &cn.Lines[i]
			if !line.TrackInventory {
				continue
			}
			allocations, remaining, err := s.AllocateFIFOReturn(tx, in.TenantID, cn.InvoiceID, line.ItemID, line.Quantity)
			if err != nil {
				return nil, nil, err
			}
			if remaining.IsPositive() {
				return nil, nil, NewOverReturnError("credit note requests more units than remain eligible for return")
			}
			for _, alloc := range allocations {
				result, err := s.ApplyStockMove(tx, StockMoveInput{
					TenantID:        in.TenantID,
					LocationID:      alloc.LocationID,
					ItemID:          line.ItemID,
					Date:            cn.Date,
					Type:            MoveSaleReturn,
					Direction:       DirectionIn,
					Quantity:        alloc.Quantity,
					UnitCostApplied: alloc.UnitCost,
					ReferenceType:   "CreditNote",
					ReferenceID:     cn.ID,
					CorrelationID:   in.CorrelationID,
					CreatedByUserID: in.UserID,
				})
				if err != nil {
					return nil, nil, err
				}
				restockTotal = restockTotal.Add(result.Move.TotalCostApplied)
				createdMoves = append(createdMoves, result.Move)
			}
		}
	}

	lines := make([]PostLineInput, 0, len(totals.AccountOrder)+3)
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
	lines = append(lines, PostLineInput{AccountID: arAccount.ID, Credit: totals.Total})
	if restockTotal.IsPositive() {
		inventoryAccount, err := requireAccountOfType(s, tx, in.TenantID, company.InventoryAssetAccountID, "inventory_asset", Asset)
		if err != nil {
			return nil, nil, err
		}
		cogsAccount, err := requireAccountOfType(s, tx, in.TenantID, company.COGSAccountID, "cogs", Expense)
		if err != nil {
			return nil, nil, err
		}
		lines = append(lines, PostLineInput{AccountID: inventoryAccount.ID, Debit: restockTotal})
		lines = append(lines, PostLineInput{AccountID: cogsAccount.ID, Credit: restockTotal})
	}

	je, err := s.Post(tx, PostInput{
		TenantID:        in.TenantID,
		Date:            cn.Date,
		Description:     "Credit note " + cn.Number,
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

	cn.Status = StatusPosted
	cn.Subtotal = totals.Subtotal
	cn.TaxAmount = totals.TaxAmount
	cn.Total = totals.Total
	cn.JournalEntryID = je.ID
	if err := s.SaveCreditNote(tx, cn); err != nil {
		return nil, nil, err
	}

	events := []*OutboxEvent{
		NewOutboxEvent(in.TenantID, EventJournalEntryCreated, "JournalEntry", je.ID, "cashflow-api", in.CorrelationID, map[string]interface{}{"journalEntryId": je.ID}, 0),
		NewOutboxEvent(in.TenantID, EventCreditNotePosted, "CreditNote", cn.ID, "cashflow-api", in.CorrelationID, map[string]interface{}{"creditNoteId": cn.ID, "total": cn.Total}, 1),
	}
	for _, e := range events {
		if err := s.InsertOutboxEvent(tx, e); err != nil {
			return nil, nil, err
		}
	}
	if err := s.WriteAuditLog(tx, &AuditLog{
		TenantID:      in.TenantID,
		UserID:        in.UserID,
		Action:        "credit_note.post",
		EntityType:    "CreditNote",
		EntityID:      cn.ID,
		CorrelationID: in.CorrelationID,
	}); err != nil {
		return nil, nil, err
	}

	return cn, events, nil
}

func (s *Storage) VoidCreditNote(tx *bbolt.Tx, tenantID, creditNoteID, reason, userID string) (*CreditNote, error) {
	cn, err := s.GetCreditNote(tx, tenantID, creditNoteID)
	if err != nil {
		return nil, err
	}
	if cn.Status != StatusPosted {
		return nil, NewStateError("only POSTED credit notes can be voided")
	}
	refunds, err := s.CreditNoteRefundsForNote(tx, tenantID, creditNoteID)
	if err != nil {
		return nil, err
	}
	if len(refunds) > 0 {
		return nil, NewStateError("cannot void a credit note with refunds recorded against it")
	}

	originalJE, err := s.GetJournalEntry(tx, tenantID, cn.JournalEntryID)
	if err != nil {
		return nil, err
	}
	reversalJE, err := s.PostReversal(tx, originalJE, reason, userID, cn.Date, "Void of credit note "+cn.Number)
	if err != nil {
		return nil, err
	}

	moves, err := s.MovesByReference(tx, tenantID, "CreditNote", creditNoteID)
	if err != nil {
		return nil, err
	}
	for _, mv := range moves {
		if mv.Type != MoveSaleReturn {
			continue
		}
		result, err := s.ApplyStockMove(tx, StockMoveInput{
			TenantID:        tenantID,
			LocationID:      mv.LocationID,
			ItemID:          mv.ItemID,
			Date:            cn.Date,
			Type:            MoveSaleIssue,
			Direction:       DirectionOut,
			Quantity:        mv.Quantity,
			UnitCostApplied: mv.UnitCostApplied,
			ReferenceType:   "CreditNote",
			ReferenceID:     creditNoteID,
			CreatedByUserID: userID,
		})
		if err != nil {
			return nil, err
		}
		if err := s.LinkStockMoveJournalEntry(tx, result.Move, reversalJE.ID); err != nil {
			return nil, err
		}
	}

	cn.Status = StatusVoid
	cn.VoidJournalEntryID = reversalJE.ID
	return cn, s.SaveCreditNote(tx, cn)
}
