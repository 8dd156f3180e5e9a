package cashflow

import (
	"context"
	"time"

	"go.etcd.io/bbolt"
)

// PeriodLookup is the interface the core consumes for period-close policy
// (spec.md §1: "period-close configuration" is an external collaborator;
// §4.C10: "The concrete closed-period representation is external; the
// core consumes a query interface only").
type PeriodLookup interface {
	IsClosed(ctx context.Context, tenantID string, date Date) (bool, error)
}

// Period is the default in-process representation, used by the bbolt-backed
// PeriodLookup implementation below for the demo/test build. Production
// deployments may substitute any other PeriodLookup.
type Period struct {
	TenantID     string     `json:"tenant_id"`
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Start        Date       `json:"start"`
	End          Date       `json:"end"`
	SoftClosedAt *time.Time `json:"soft_closed_at,omitempty"`
	HardClosedAt *time.Time `json:"hard_closed_at,omitempty"`
}

func (p *Period) covers(d Date) bool {
	return !d.Before(p.Start) && !d.After(p.End)
}

func (p *Period) isClosed() bool {
	return p.SoftClosedAt != nil || p.HardClosedAt != nil
}

func (s *Storage) SavePeriod(tx *bbolt.Tx, p *Period) error {
	return putJSON(tx, bucketPeriods, p.TenantID, p.ID, p)
}

func (s *Storage) ListPeriods(tx *bbolt.Tx, tenantID string) ([]*Period, error) {
	var out []*Period
	err := forEachTenant(tx, bucketPeriods, tenantID, func(_, v []byte) error {
		var p Period
		if err := jsonUnmarshalBytes(v, &p); err != nil {
			return err
		}
		cp := p
		out = append(out, &cp)
		return nil
	})
	return out, err
}

// StoragePeriodLookup is the default bbolt-backed PeriodLookup.
type StoragePeriodLookup struct {
	Storage *Storage
}

func (l *StoragePeriodLookup) IsClosed(ctx context.Context, tenantID string, date Date) (bool, error) {
	var closed bool
	err := l.Storage.View(func(tx *bbolt.Tx) error {
		periods, err := l.Storage.ListPeriods(tx, tenantID)
		if err != nil {
			return err
		}
		for _, p := range periods {
			if p.covers(date) && p.isClosed() {
				closed = true
				return nil
			}
		}
		return nil
	})
	return closed, err
}

// CheckPeriodOpen rejects with PERIOD_CLOSED if the tenant has a closed
// period covering date, per spec.md §4.C10. Per the decided Open Question
// in DESIGN.md, this is the ONLY axis that blocks on period status;
// future-dated inventory postings are rejected separately, by the
// FUTURE_INVENTORY_DATE check in the document services themselves.
func CheckPeriodOpen(ctx context.Context, lookup PeriodLookup, tenantID string, date Date) error {
	if lookup == nil {
		return nil
	}
	closed, err := lookup.IsClosed(ctx, tenantID, date)
	if err != nil {
		return NewInternalError("period lookup failed: " + err.Error())
	}
	if closed {
		return NewPeriodClosedError(date.String())
	}
	return nil
}
