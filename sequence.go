package cashflow

import (
	"fmt"

	"go.etcd.io/bbolt"
)

// sequenceCounter is the persisted state of one per-tenant,
// per-document-type counter.
type sequenceCounter struct {
	TenantID string `json:"tenant_id"`
	DocType  string `json:"doc_type"`
	Next     int64  `json:"next"`
}

// DocumentPrefixes maps a document type to its human-readable number
// prefix, per spec.md §4.C13's examples (INV-00042, BILL-00042, ...).
var DocumentPrefixes = map[string]string{
	"INVOICE":       "INV",
	"CREDIT_NOTE":   "CN",
	"EXPENSE":       "BILL",
	"PURCHASE_BILL": "PBILL",
	"PAYMENT":       "PMT",
}

func sequenceKey(docType string) string { return docType }

// NextSequence produces the next monotonic, per-tenant, per-document-type
// human-readable number, e.g. "INV-00042". Generation happens inside the
// caller's open bbolt transaction, which — as with every other
// "row-locked counter row" in this repo — is what makes it
// collision-free under concurrency (spec.md §4.C13): two concurrent
// posts for the same tenant+docType serialize on bbolt's single writer.
func (s *Storage) NextSequence(tx *bbolt.Tx, tenantID, docType string) (string, error) {
	var counter sequenceCounter
	err := getJSON(tx, bucketSequences, tenantID, sequenceKey(docType), &counter)
	if err != nil && err != errNotFoundInBucket {
		return "", err
	}
	if err == errNotFoundInBucket {
		counter = sequenceCounter{TenantID: tenantID, DocType: docType, Next: 1}
	}

	n := counter.Next
	counter.Next = n + 1
	if err := putJSON(tx, bucketSequences, tenantID, sequenceKey(docType), &counter); err != nil {
		return "", err
	}

	prefix := DocumentPrefixes[docType]
	if prefix == "" {
		prefix = docType
	}
	return fmt.Sprintf("%s-%05d", prefix, n), nil
}
