package cashflow

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.etcd.io/bbolt"
)

// StockMoveType and StockMoveDirection classify a StockMove, per spec.md §3.
type StockMoveType string

const (
	MovePurchaseReceipt StockMoveType = "PURCHASE_RECEIPT"
	MoveSaleIssue        StockMoveType = "SALE_ISSUE"
	MoveSaleReturn        StockMoveType = "SALE_RETURN"
	MoveAdjustment        StockMoveType = "ADJUSTMENT"
)

type StockMoveDirection string

const (
	DirectionIn  StockMoveDirection = "IN"
	DirectionOut StockMoveDirection = "OUT"
)

// StockBalance is the running (quantity, unitCost) for one (tenant,
// location, item). Invariant: quantity >= 0 after any OUT application
// (spec.md §3).
type StockBalance struct {
	TenantID   string          `json:"tenant_id"`
	LocationID string          `json:"location_id"`
	ItemID     string          `json:"item_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitCost   Money           `json:"unit_cost"`
}

func stockKey(locationID, itemID string) string { return locationID + "/" + itemID }

func (s *Storage) SaveStockBalance(tx *bbolt.Tx, b *StockBalance) error {
	return putJSON(tx, bucketStockBalances, b.TenantID, stockKey(b.LocationID, b.ItemID), b)
}

// GetStockBalance loads the balance for (tenant, location, item),
// returning a zeroed balance (not an error) when no row exists yet, per
// spec.md §4.C7 step 1: "initialize (qty=0, unitCost=0) if absent."
func (s *Storage) GetStockBalance(tx *bbolt.Tx, tenantID, locationID, itemID string) (*StockBalance, error) {
	var b StockBalance
	err := getJSON(tx, bucketStockBalances, tenantID, stockKey(locationID, itemID), &b)
	if err == errNotFoundInBucket {
		return &StockBalance{TenantID: tenantID, LocationID: locationID, ItemID: itemID, Quantity: decimal.Zero, UnitCost: ZeroMoney}, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// StockMove is an append-only per-item movement record (spec.md §3).
type StockMove struct {
	TenantID          string             `json:"tenant_id"`
	ID                string             `json:"id"`
	LocationID        string             `json:"location_id"`
	ItemID            string             `json:"item_id"`
	Date              Date               `json:"date"`
	Type              StockMoveType      `json:"type"`
	Direction         StockMoveDirection `json:"direction"`
	Quantity          decimal.Decimal    `json:"quantity"`
	UnitCostApplied   Money              `json:"unit_cost_applied"`
	TotalCostApplied  Money              `json:"total_cost_applied"`
	ReferenceType     string             `json:"reference_type"`
	ReferenceID       string             `json:"reference_id"`
	CorrelationID     string             `json:"correlation_id"`
	CreatedByUserID   string             `json:"created_by_user_id"`
	JournalEntryID    string             `json:"journal_entry_id,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

func (s *Storage) SaveStockMove(tx *bbolt.Tx, m *StockMove) error {
	return putJSON(tx, bucketStockMoves, m.TenantID, m.ID, m)
}

func (s *Storage) GetStockMove(tx *bbolt.Tx, tenantID, id string) (*StockMove, error) {
	var m StockMove
	if err := getJSON(tx, bucketStockMoves, tenantID, id, &m); err != nil {
		if err == errNotFoundInBucket {
			return nil, NewNotFoundError("stock move", id)
		}
		return nil, err
	}
	return &m, nil
}

// MovesByReference returns, in insertion order, every StockMove created
// for the given (referenceType, referenceID), e.g. all SALE_ISSUE moves an
// invoice generated — used by void (SALE_RETURN at original cost) and
// credit-note FIFO return allocation.
func (s *Storage) MovesByReference(tx *bbolt.Tx, tenantID, referenceType, referenceID string) ([]*StockMove, error) {
	var out []*StockMove
	err := forEachTenant(tx, bucketStockMoves, tenantID, func(_, v []byte) error {
		var m StockMove
		if err := jsonUnmarshalBytes(v, &m); err != nil {
			return err
		}
		if m.ReferenceType == referenceType && m.ReferenceID == referenceID {
			cp := m
			out = append(out, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MovesForItemLocation returns every move for (tenant, location, item) in
// key (id) order, not creation order, used for the backdated-insert check
// and to find the latest move date.
func (s *Storage) MovesForItemLocation(tx *bbolt.Tx, tenantID, locationID, itemID string) ([]*StockMove, error) {
	var out []*StockMove
	err := forEachTenant(tx, bucketStockMoves, tenantID, func(_, v []byte) error {
		var m StockMove
		if err := jsonUnmarshalBytes(v, &m); err != nil {
			return err
		}
		if m.LocationID == locationID && m.ItemID == itemID {
			cp := m
			out = append(out, &cp)
		}
		return nil
	})
	return out, err
}

// StockMoveInput is the caller-supplied request to apply() one stock move,
// per spec.md §4.C7.
type StockMoveInput struct {
	TenantID            string
	LocationID          string
	ItemID              string
	Date                Date
	Type                StockMoveType
	Direction           StockMoveDirection
	Quantity            decimal.Decimal
	UnitCostApplied     Money // caller-supplied cost for IN moves, or an exact-override for reversal moves
	TotalCostOverride   *Money // bypasses WAC averaging entirely (void/reversal exact-cost restoration)
	ReferenceType       string
	ReferenceID         string
	CorrelationID       string
	CreatedByUserID     string
}

// ApplyResult carries the created move plus the backdated-insert signal
// spec.md §4.C7 step 6 describes.
type ApplyResult struct {
	Move                          *StockMove
	RequiresInventoryRecalcFromDate *Date
}

// ApplyStockMove runs the perpetual weighted-average-cost algorithm of
// spec.md §4.C7 inside the caller's transaction. No caller in this package
// takes a `lock:stock:...` key (LockKeyForTenant with scope "stock");
// concurrent moves on one balance are ordered by the caller's bbolt write
// transaction.
func (s *Storage) ApplyStockMove(tx *bbolt.Tx, in StockMoveInput) (*ApplyResult, error) {
	bal, err := s.GetStockBalance(tx, in.TenantID, in.LocationID, in.ItemID)
	if err != nil {
		return nil, err
	}

	var unitCostApplied, totalCostApplied Money
	newQty := bal.Quantity
	newUnitCost := bal.UnitCost

	switch in.Direction {
	case DirectionIn:
		unitCostApplied = in.UnitCostApplied
		if in.TotalCostOverride != nil {
			totalCostApplied = *in.TotalCostOverride
		} else {
			totalCostApplied = unitCostApplied.Mul(in.Quantity)
		}
		newQty = bal.Quantity.Add(in.Quantity)
		if newQty.IsZero() {
			newUnitCost = ZeroMoney
		} else {
			priorTotal := bal.UnitCost.Mul(bal.Quantity)
			newUnitCost = priorTotal.Add(totalCostApplied).DivQty(newQty)
		}
	case DirectionOut:
		if in.Quantity.GreaterThan(bal.Quantity) && in.Type == MoveSaleIssue {
			return nil, NewOutOfStockError(in.ItemID, bal.Quantity.String(), in.Quantity.String())
		}
		unitCostApplied = bal.UnitCost
		if in.TotalCostOverride != nil {
			totalCostApplied = *in.TotalCostOverride
			if !in.Quantity.IsZero() {
				unitCostApplied = totalCostApplied.DivQty(in.Quantity)
			}
		} else if !in.UnitCostApplied.IsZero() && in.Type == MoveSaleReturn {
			// SALE_RETURN uses the originally-applied unit cost for exact
			// COGS reversal (spec.md §4.C7 "Reversal moves").
			unitCostApplied = in.UnitCostApplied
			totalCostApplied = unitCostApplied.Mul(in.Quantity)
		} else {
			totalCostApplied = unitCostApplied.Mul(in.Quantity)
		}
		newQty = bal.Quantity.Sub(in.Quantity)
		// newUnitCost unchanged for OUT moves.
	}

	move := &StockMove{
		TenantID:         in.TenantID,
		ID:               uuid.New().String(),
		LocationID:       in.LocationID,
		ItemID:           in.ItemID,
		Date:             in.Date,
		Type:             in.Type,
		Direction:        in.Direction,
		Quantity:         in.Quantity,
		UnitCostApplied:  unitCostApplied,
		TotalCostApplied: totalCostApplied,
		ReferenceType:    in.ReferenceType,
		ReferenceID:      in.ReferenceID,
		CorrelationID:    in.CorrelationID,
		CreatedByUserID:  in.CreatedByUserID,
		CreatedAt:        time.Now().UTC(),
	}

	// Backdated-insert detection (spec.md §4.C7 step 6), computed against
	// existing moves BEFORE this one is saved.
	priorMoves, err := s.MovesForItemLocation(tx, in.TenantID, in.LocationID, in.ItemID)
	if err != nil {
		return nil, err
	}
	var recalcFrom *Date
	for _, pm := range priorMoves {
		if in.Date.Before(pm.Date) {
			d := in.Date
			recalcFrom = &d
			break
		}
	}

	if err := s.SaveStockMove(tx, move); err != nil {
		return nil, err
	}

	newBal := &StockBalance{
		TenantID:   in.TenantID,
		LocationID: in.LocationID,
		ItemID:     in.ItemID,
		Quantity:   newQty,
		UnitCost:   newUnitCost,
	}
	if err := s.SaveStockBalance(tx, newBal); err != nil {
		return nil, err
	}

	return &ApplyResult{Move: move, RequiresInventoryRecalcFromDate: recalcFrom}, nil
}

// LinkStockMoveJournalEntry sets journalEntryId on a StockMove, allowed
// only while it is unset (spec.md §5 "a single-field write allowed only
// when journalEntryId IS NULL").
func (s *Storage) LinkStockMoveJournalEntry(tx *bbolt.Tx, move *StockMove, journalEntryID string) error {
	if move.JournalEntryID != "" {
		return NewInternalError("stock move already linked to a journal entry")
	}
	move.JournalEntryID = journalEntryID
	return s.SaveStockMove(tx, move)
}

// AllocateFIFOReturn allocates a requested return quantity across the
// SALE_ISSUE moves for (tenant, item, invoice) in FIFO order, taking into
// account quantity already returned per move (derived from the SALE_RETURN
// moves of every POSTED credit note against the same invoice), and returns
// the per-(location, unitCost) portions to apply plus the leftover
// quantity that could not be allocated (> 0 means OVER_RETURN). Grounded
// on spec.md §4.C9's credit-note posting paragraph.
type FIFOAllocation struct {
	LocationID string
	UnitCost   Money
	Quantity   decimal.Decimal
}

func (s *Storage) AllocateFIFOReturn(tx *bbolt.Tx, tenantID, invoiceID, itemID string, requested decimal.Decimal) ([]FIFOAllocation, decimal.Decimal, error) {
	issues, err := s.MovesByReference(tx, tenantID, "Invoice", invoiceID)
	if err != nil {
		return nil, decimal.Zero, err
	}

	priorNotes, err := s.CreditNotesForInvoice(tx, tenantID, invoiceID)
	if err != nil {
		return nil, decimal.Zero, err
	}

	// Aggregate quantity already returned for this item across every other
	// POSTED credit note against this invoice. PostCreditNote stores each
	// SALE_RETURN move keyed by that credit note's own id, not the invoice
	// id, so prior returns are found by enumerating sibling credit notes
	// rather than a single reference lookup; a DRAFT/APPROVED/VOID note
	// contributes nothing. Prior returns are attributed to the earliest
	// SALE_ISSUE moves first — the same FIFO order this allocation itself
	// uses — so repeated calls stay consistent.
	pool := decimal.Zero
	for _, note := range priorNotes {
		if note.Status != StatusPosted {
			continue
		}
		returns, err := s.MovesByReference(tx, tenantID, "CreditNote", note.ID)
		if err != nil {
			return nil, decimal.Zero, err
		}
		for _, r := range returns {
			if r.Type == MoveSaleReturn && r.ItemID == itemID {
				pool = pool.Add(r.Quantity)
			}
		}
	}

	remaining := requested
	var allocations []FIFOAllocation
	for _, mv := range issues {
		if mv.ItemID != itemID || mv.Type != MoveSaleIssue {
			continue
		}
		consumedFromThis := decimal.Min(pool, mv.Quantity)
		pool = pool.Sub(consumedFromThis)
		capacity := mv.Quantity.Sub(consumedFromThis)
		if capacity.IsZero() || capacity.IsNegative() {
			continue
		}
		take := decimal.Min(capacity, remaining)
		if take.IsPositive() {
			allocations = append(allocations, FIFOAllocation{
				LocationID: mv.LocationID,
				UnitCost:   mv.UnitCostApplied,
				Quantity:   take,
			})
			remaining = remaining.Sub(take)
		}
		if remaining.IsZero() {
			break
		}
	}

	return allocations, remaining, nil
}
