package cashflow

import (
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// AuditLog is an append-only structured record of one write command,
// tied to its correlation id (spec.md §3, §4.C11). Grounded on
// other_examples' audit-repository shape (jordigilh-kubernaut's
// audit_events_repository.go), written against this repo's bbolt Storage.
type AuditLog struct {
	TenantID       string    `json:"tenant_id"`
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Action         string    `json:"action"` // e.g. "invoice.post"
	EntityType     string    `json:"entity_type"`
	EntityID       string    `json:"entity_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	CorrelationID  string    `json:"correlation_id"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (s *Storage) WriteAuditLog(tx *bbolt.Tx, a *AuditLog) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.OccurredAt.IsZero() {
		a.OccurredAt = time.Now().UTC()
	}
	return putJSON(tx, bucketAuditLog, a.TenantID, a.ID, a)
}

// ListAuditLog returns a tenant's audit rows in key (id) order, which is
// not creation order — used
// only by tests and the (out of scope per spec.md §1) read surface; the
// core itself is write-only against this bucket.
func (s *Storage) ListAuditLog(tx *bbolt.Tx, tenantID string) ([]*AuditLog, error) {
	var out []*AuditLog
	err := forEachTenant(tx, bucketAuditLog, tenantID, func(_, v []byte) error {
		var a AuditLog
		if err := jsonUnmarshalBytes(v, &a); err != nil {
			return err
		}
		cp := a
		out = append(out, &cp)
		return nil
	})
	return out, err
}
