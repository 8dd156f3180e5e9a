package cashflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// PurchaseBill is DRAFT → POSTED → {PARTIAL, PAID}, per spec.md §4.C9.
// Posting mirrors invoice posting (Dr Expense-or-Inventory / Cr AP, or Cr
// Bank in the paid-immediately variant) and applies PURCHASE_RECEIPT IN
// moves at line unitCost, feeding the WAC engine.
type PurchaseBill struct {
	TenantID string         `json:"tenant_id"`
	ID       string         `json:"id"`
	Number   string         `json:"number"`
	VendorID string         `json:"vendor_id"`
	Date     Date           `json:"date"`
	LocationID string       `json:"location_id,omitempty"`
	Lines    []DocumentLine `json:"lines"`

	Subtotal  Money `json:"subtotal"`
	TaxAmount Money `json:"tax_amount"`
	Total     Money `json:"total"`

	Status         DocumentStatus `json:"status"`
	JournalEntryID string         `json:"journal_entry_id,omitempty"`

	AmountPaid Money `json:"amount_paid"`

	CreatedByUserID string    `json:"created_by_user_id"`
	CreatedAt       time.Time `json:"created_at"`
}

func (s *Storage) SavePurchaseBill(tx *bbolt.Tx, b *PurchaseBill) error {
	return putJSON(tx, bucketPurchaseBills, b.TenantID, b.ID, b)
}

func (s *Storage) GetPurchaseBill(tx *bbolt.Tx, tenantID, id string) (*PurchaseBill, error) {
	var b PurchaseBill
	if err := getJSON(tx, bucketPurchaseBills, tenantID, id, &b); err != nil {
		if err == errNotFoundInBucket {
			return nil, NewNotFoundError("purchase bill", id)
		}
		return nil, err
	}
	return &b, nil
}

// ListPurchaseBills returns every purchase bill for the tenant.
func (s *Storage) ListPurchaseBills(tx *bbolt.Tx, tenantID string) ([]*PurchaseBill, error) {
	var out []*PurchaseBill
	err := forEachTenant(tx, bucketPurchaseBills, tenantID, func(_, v []byte) error {
		var b PurchaseBill
		if err := jsonUnmarshalBytes(v, &b); err != nil {
			return err
		}
		cp := b
		out = append(out, &cp)
		return nil
	})
	return out, err
}

// CreatePurchaseBillInput is the request to create a new DRAFT purchase
// bill.
type CreatePurchaseBillInput struct {
	TenantID        string
	VendorID        string
	Date            Date
	LocationID      string
	Lines           []DocumentLine
	CreatedByUserID string
}

func (s *Storage) CreatePurchaseBill(tx *bbolt.Tx, in CreatePurchaseBillInput) (*PurchaseBill, error) {
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
	number, err := s.NextSequence(tx, in.TenantID, "PURCHASE_BILL")
	if err != nil {
		return nil, err
	}
	b := &PurchaseBill{
		TenantID:        in.TenantID,
		ID:              uuid.New().String(),
		Number:          number,
		VendorID:        in.VendorID,
		Date:            in.Date,
		LocationID:      in.LocationID,
		Lines:           in.Lines,
		Subtotal:        totals.Subtotal,
		TaxAmount:       totals.TaxAmount,
		Total:           totals.Total,
		Status:          StatusDraft,
		AmountPaid:      ZeroMoney,
		CreatedByUserID: in.CreatedByUserID,
		CreatedAt:       time.Now().UTC(),
	}
	return b, s.SavePurchaseBill(tx, b)
}

// PostPurchaseBillInput carries the write-context for posting.
type PostPurchaseBillInput struct {
	TenantID       string
	PurchaseBillID string
	UserID         string
	CorrelationID  string
	PeriodLookup   PeriodLookup
	PayImmediately bool
	BankAccountID  string
	PaymentDate    Date
}

// PostPurchaseBill implements spec.md §4.C9's purchase bill posting.
func (s *Storage) PostPurchaseBill(ctx context.Context, tx *bbolt.Tx, in PostPurchaseBillInput) (*PurchaseBill, []*OutboxEvent, error) {
	b, err := s.GetPurchaseBill(tx, in.TenantID, in.PurchaseBillID)
	if err != nil {
		return nil, nil, err
	}
	if b.Status != StatusDraft {
		return nil, nil, NewStateError("only DRAFT purchase bills can be posted")
	}

	company, err := s.GetCompany(tx, in.TenantID)
	if err != nil {
		return nil, nil, err
	}

	for i := range b.Lines {
		if !b.Lines[i].TrackInventory {
			if _, err := requireAccountOfType(s, tx, in.TenantID, b.Lines[i].AccountID, "line expense", Expense); err != nil {
				return nil, nil, err
			}
		}
	}

	if err := CheckPeriodOpen(ctx, in.PeriodLookup, in.TenantID, b.Date); err != nil {
		return nil, nil, err
	}

	totals, err := recomputeDocumentTotals(b.Lines)
	if err != nil {
		return nil, nil, err
	}
	if err := checkRoundingMatches(totals.Total, b.Total); err != nil {
		return nil, nil, err
	}

	inventoryTotal := ZeroMoney
	var createdMoves []*StockMove
	debitBuckets := map[string]Money{}
	var debitOrder []string
	addDebit := func(accountID string, amount Money) {
		if _, ok := debitBuckets[accountID]; !ok {
			debitOrder = append(debitOrder, accountID)
		}
		debitBuckets[accountID] = debitBuckets[accountID].Add(amount)
	}

	for i := range b.Lines {
		line := &b.Lines[i]
		if !line.TrackInventory {
			addDebit(line.AccountID, line.Subtotal)
			continue
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

		unitCost := line.UnitPrice
		result, err := s.ApplyStockMove(tx, StockMoveInput{
			TenantID:        in.TenantID,
			LocationID:      loc.ID,
			ItemID:          line.ItemID,
			Date:            b.Date,
			Type:            MovePurchaseReceipt,
			Direction:       DirectionIn,
			Quantity:        line.Quantity,
			UnitCostApplied: unitCost,
			ReferenceType:   "PurchaseBill",
			ReferenceID:     b.ID,
			CorrelationID:   in.CorrelationID,
			CreatedByUserID: in.UserID,
		})
		if err != nil {
			return nil, nil, err
		}
		inventoryTotal = inventoryTotal.Add(result.Move.TotalCostApplied)
		createdMoves = append(createdMoves, result.Move)
	}

	if inventoryTotal.IsPositive() {
		inventoryAccount, err := requireAccountOfType(s, tx, in.TenantID, company.InventoryAssetAccountID, "inventory_asset", Asset)
		if err != nil {
			return nil, nil, err
		}
		addDebit(inventoryAccount.ID, inventoryTotal)
	}

	lines := make([]PostLineInput, 0, len(debitOrder)+2)
	for _, acctID := range debitOrder {
		lines = append(lines, PostLineInput{AccountID: acctID, Debit: debitBuckets[acctID]})
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
		Date:            b.Date,
		Description:     "Purchase bill " + b.Number,
		LocationID:      b.LocationID,
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

	b.Subtotal = totals.Subtotal
	b.TaxAmount = totals.TaxAmount
	b.Total = totals.Total
	b.JournalEntryID = je.ID

	events := []*OutboxEvent{
		NewOutboxEvent(in.TenantID, EventJournalEntryCreated, "JournalEntry", je.ID, "cashflow-api", in.CorrelationID, map[string]interface{}{"journalEntryId": je.ID}, 0),
		NewOutboxEvent(in.TenantID, EventBillPosted, "PurchaseBill", b.ID, "cashflow-api", in.CorrelationID, map[string]interface{}{"purchaseBillId": b.ID, "total": b.Total}, 1),
	}

	if in.PayImmediately {
		paymentDate := in.PaymentDate
		if paymentDate.IsZero() {
			paymentDate = b.Date
		}
		payment := &PurchaseBillPayment{
			TenantID:        in.TenantID,
			ID:              uuid.New().String(),
			PurchaseBillID:  b.ID,
			BankAccountID:   in.BankAccountID,
			Amount:          b.Total,
			Date:            paymentDate,
			JournalEntryID:  je.ID,
			CreatedByUserID: in.UserID,
			CreatedAt:       time.Now().UTC(),
		}
		if err := s.SavePurchaseBillPayment(tx, payment); err != nil {
			return nil, nil, err
		}
		b.Status = StatusPaid
		b.AmountPaid = b.Total
		events = append(events, NewOutboxEvent(in.TenantID, EventBillPaymentRecorded, "PurchaseBillPayment", payment.ID, "cashflow-api", in.CorrelationID, map[string]interface{}{"purchaseBillPaymentId": payment.ID, "purchaseBillId": b.ID, "amount": payment.Amount}, 2))
	} else {
		b.Status = StatusPosted
		b.AmountPaid = ZeroMoney
	}

	if err := s.SavePurchaseBill(tx, b); err != nil {
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
		Action:        "purchase_bill.post",
		EntityType:    "PurchaseBill",
		EntityID:      b.ID,
		CorrelationID: in.CorrelationID,
	}); err != nil {
		return nil, nil, err
	}

	return b, events, nil
}

// RecordPurchaseBillPaymentInput is the request to settle a purchase
// bill.
type RecordPurchaseBillPaymentInput struct {
	TenantID       string
	PurchaseBillID string
	Amount         Money
	BankAccountID  string
	Date           Date
	UserID         string
	CorrelationID  string
}

func (s *Storage) RecordPurchaseBillPayment(tx *bbolt.Tx, in RecordPurchaseBillPaymentInput) (*PurchaseBillPayment, []*OutboxEvent, error) {
	b, err := s.GetPurchaseBill(tx, in.TenantID, in.PurchaseBillID)
	if err != nil {
		return nil, nil, err
	}
	if b.Status != StatusPosted && b.Status != StatusPartial {
		return nil, nil, NewStateError("payments can only be recorded against POSTED or PARTIAL purchase bills")
	}

	bankAccount, err := requireBankAccount(s, tx, in.TenantID, in.BankAccountID, "")
	if err != nil {
		return nil, nil, err
	}
	existing, err := s.PurchaseBillPaymentsForBill(tx, in.TenantID, in.PurchaseBillID)
	if err != nil {
		return nil, nil, err
	}
	remaining := RemainingBalance(b.Total, nonReversedPurchaseBillTotal(existing))
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
		Description:     "Payment for purchase bill " + b.Number,
		CreatedByUserID: in.UserID,
		Lines: []PostLineInput{
			{AccountID: apAccount.ID, Debit: in.Amount},
			{AccountID: bankAccount.ID, Credit: in.Amount},
		},
	})
	if err != nil {
		return nil, nil, err
	}

	payment := &PurchaseBillPayment{
		TenantID:        in.TenantID,
		ID:              uuid.New().String(),
		PurchaseBillID:  in.PurchaseBillID,
		BankAccountID:   in.BankAccountID,
		Amount:          in.Amount,
		Date:            in.Date,
		JournalEntryID:  je.ID,
		CreatedByUserID: in.UserID,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.SavePurchaseBillPayment(tx, payment); err != nil {
		return nil, nil, err
	}

	totalPaid := nonReversedPurchaseBillTotal(append(existing, payment))
	b.AmountPaid = totalPaid
	if totalPaid.GreaterThan(b.Total) || totalPaid.Equal(b.Total) {
		b.Status = StatusPaid
	} else {
		b.Status = StatusPartial
	}
	if err := s.SavePurchaseBill(tx, b); err != nil {
		return nil, nil, err
	}

	events := []*OutboxEvent{
		NewOutboxEvent(in.TenantID, EventJournalEntryCreated, "JournalEntry", je.ID, "cashflow-api", in.CorrelationID, map[string]interface{}{"journalEntryId": je.ID}, 0),
		NewOutboxEvent(in.TenantID, EventBillPaymentRecorded, "PurchaseBillPayment", payment.ID, "cashflow-api", in.CorrelationID, map[string]interface{}{"purchaseBillPaymentId": payment.ID, "purchaseBillId": b.ID, "amount": payment.Amount}, 1),
	}
	for _, ev := range events {
		if err := s.InsertOutboxEvent(tx, ev); err != nil {
			return nil, nil, err
		}
	}
	return payment, events, nil
}
