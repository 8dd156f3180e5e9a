package cashflow

// Storage Layer Serialization Strategy:
// every bucket value is JSON-encoded (see DESIGN.md for why this repo does
// not carry the teacher's protobuf dependency forward). bbolt's single
// writer per (*bbolt.DB).Update transaction is what makes every
// "SELECT ... FOR UPDATE" in spec.md §5 authoritative without a separate
// row-lock primitive: two goroutines racing to post the same invoice, or
// apply a stock move for the same (tenant, location, item), serialize on
// the same bbolt writer lock regardless of the best-effort Redis locks in
// lock.go.

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// Buckets, one per tenant-scoped entity kind.
var (
	bucketCompanies      = []byte("companies")
	bucketAccounts       = []byte("accounts")
	bucketJournalEntries = []byte("journal_entries")
	bucketStockBalances  = []byte("stock_balances")
	bucketStockMoves     = []byte("stock_moves")
	bucketInvoices       = []byte("invoices")
	bucketCreditNotes    = []byte("credit_notes")
	bucketExpenses       = []byte("expenses")
	bucketPurchaseBills  = []byte("purchase_bills")
	bucketPayments       = []byte("payments")
	bucketExpensePayments       = []byte("expense_payments")
	bucketPurchaseBillPayments  = []byte("purchase_bill_payments")
	bucketCreditNoteRefunds     = []byte("credit_note_refunds")
	bucketCustomers      = []byte("customers")
	bucketVendors        = []byte("vendors")
	bucketItems          = []byte("items")
	bucketLocations      = []byte("locations")
	bucketPeriods        = []byte("periods")
	bucketOutboxEvents   = []byte("outbox_events")
	bucketIdempotency    = []byte("idempotency")
	bucketAuditLog       = []byte("audit_log")
	bucketSequences      = []byte("sequences")
	bucketReconciliations = []byte("reconciliations")
)

var allBuckets = [][]byte{
	bucketCompanies, bucketAccounts, bucketJournalEntries,
	bucketStockBalances, bucketStockMoves,
	bucketInvoices, bucketCreditNotes, bucketExpenses, bucketPurchaseBills,
	bucketPayments, bucketExpensePayments, bucketPurchaseBillPayments, bucketCreditNoteRefunds,
	bucketCustomers, bucketVendors, bucketItems, bucketLocations, bucketPeriods,
	bucketOutboxEvents, bucketIdempotency, bucketAuditLog, bucketSequences,
	bucketReconciliations,
}

// Storage is the single embedded-database handle for a cashflow process.
// It plays the role the teacher's Storage played, generalized from a
// single-company ledger to a multi-tenant one: every key below is prefixed
// `tenantID + "\x00"` so buckets are shared across tenants but rows never
// collide or leak across the tenant boundary (spec.md §5).
type Storage struct {
	db *bbolt.DB
}

// NewStorage opens (creating if absent) the bbolt file at dbPath and
// ensures every bucket exists.
func NewStorage(dbPath string) (*Storage, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Storage{db: db}
	if err := s.initBuckets(); err != nil {
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return s, nil
}

func (s *Storage) Close() error { return s.db.Close() }

func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
}

// tenantKey builds the `tenantID\x00id` composite key every row is stored
// under, so that a bucket scan can be restricted to one tenant's prefix.
func tenantKey(tenantID, id string) []byte {
	return []byte(tenantID + "\x00" + id)
}

func tenantPrefix(tenantID string) []byte {
	return []byte(tenantID + "\x00")
}

// Update runs fn inside a single read-write bbolt transaction — the
// authoritative serialization point for every document state transition
// (spec.md §5's "SELECT ... FOR UPDATE").
func (s *Storage) Update(fn func(tx *bbolt.Tx) error) error {
	return s.db.Update(fn)
}

// View runs fn inside a read-only bbolt transaction.
func (s *Storage) View(fn func(tx *bbolt.Tx) error) error {
	return s.db.View(fn)
}

// putJSON JSON-encodes v and stores it under tenantID/id in bucket, within
// an open transaction.
func putJSON(tx *bbolt.Tx, bucket []byte, tenantID, id string, v interface{}) error {
	b := tx.Bucket(bucket)
	if b == nil {
		return fmt.Errorf("unknown bucket %s", bucket)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", bucket, err)
	}
	return b.Put(tenantKey(tenantID, id), data)
}

// getJSON loads and decodes the row at tenantID/id in bucket into out.
func getJSON(tx *bbolt.Tx, bucket []byte, tenantID, id string, out interface{}) error {
	b := tx.Bucket(bucket)
	if b == nil {
		return fmt.Errorf("unknown bucket %s", bucket)
	}
	data := b.Get(tenantKey(tenantID, id))
	if data == nil {
		return errNotFoundInBucket
	}
	return json.Unmarshal(data, out)
}

// errNotFoundInBucket is a sentinel distinguishing "row absent" from other
// decode failures; domain files translate it into a NewNotFoundError with
// the entity name attached.
var errNotFoundInBucket = fmt.Errorf("row not found")

// forEachTenant iterates every row belonging to tenantID in bucket, calling
// fn with the raw JSON bytes. Iteration order is key order, i.e. byte order
// of the id suffix within a tenant; with random UUID ids this is not
// insertion order.
func forEachTenant(tx *bbolt.Tx, bucket []byte, tenantID string, fn func(key, value []byte) error) error {
	b := tx.Bucket(bucket)
	if b == nil {
		return fmt.Errorf("unknown bucket %s", bucket)
	}
	prefix := tenantPrefix(tenantID)
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

// jsonUnmarshalBytes is a tiny indirection so domain files scanning a
// bucket with forEachTenant don't each need their own encoding/json import
// just for the callback body.
func jsonUnmarshalBytes(data []byte, out interface{}) error {
	return json.Unmarshal(data, out)
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
