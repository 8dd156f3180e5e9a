package cashflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

// Canonical outbox event types, per spec.md §6.
const (
	EventJournalEntryCreated   = "journal.entry.created"
	EventJournalEntryReversed  = "journal.entry.reversed"
	EventInvoicePosted         = "invoice.posted"
	EventPaymentRecorded       = "payment.recorded"
	EventPaymentReversed       = "payment.reversed"
	EventCreditNotePosted      = "credit_note.posted"
	EventBillPosted            = "bill.posted"
	EventBillPaymentRecorded   = "bill.payment.recorded"
	EventInventoryRecalcRequested = "inventory.recalc.requested"
)

const SchemaVersionV1 = "v1"

// OutboxEvent is one durable, at-least-once-delivered fact, per spec.md §3/§6.
type OutboxEvent struct {
	TenantID       string                 `json:"tenant_id"`
	ID             string                 `json:"id"`
	EventID        string                 `json:"event_id"`
	EventType      string                 `json:"event_type"`
	SchemaVersion  string                 `json:"schema_version"`
	OccurredAt     time.Time              `json:"occurred_at"`
	Source         string                 `json:"source"`
	PartitionKey   string                 `json:"partition_key"`
	CorrelationID  string                 `json:"correlation_id"`
	CausationID    string                 `json:"causation_id,omitempty"`
	AggregateType  string                 `json:"aggregate_type"`
	AggregateID    string                 `json:"aggregate_id"`
	Type           string                 `json:"type"` // PascalCase name
	Payload        map[string]interface{} `json:"payload"`
	PublishedAt    *time.Time             `json:"published_at,omitempty"`

	// seq preserves insertion order within one transaction for the
	// "observed in insertion order by the publisher" guarantee spec.md §4.C5
	// requires for events sharing a partitionKey emitted by the same
	// transaction.
	Seq int64 `json:"seq"`
}

// NewOutboxEvent builds an event row; id is the bbolt row key (a random
// UUID; insertion order is carried by seq), eventId is the UUID consumers
// dedupe on.
func NewOutboxEvent(tenantID, eventType, aggregateType, aggregateID, source, correlationID string, payload map[string]interface{}, seq int64) *OutboxEvent {
	return &OutboxEvent{
		TenantID:      tenantID,
		ID:            uuid.New().String(),
		EventID:       uuid.New().String(),
		EventType:     eventType,
		SchemaVersion: SchemaVersionV1,
		OccurredAt:    time.Now().UTC(),
		Source:        source,
		PartitionKey:  tenantID,
		CorrelationID: correlationID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Type:          pascalEventType(eventType),
		Payload:       payload,
		Seq:           seq,
	}
}

func pascalEventType(eventType string) string {
	out := make([]byte, 0, len(eventType))
	upperNext := true
	for i := 0; i < len(eventType); i++ {
		c := eventType[i]
		if c == '.' || c == '_' {
			upperNext = true
			continue
		}
		if upperNext && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upperNext = false
		out = append(out, c)
	}
	return string(out)
}

// InsertOutboxEvent writes one event row inside the caller's open
// transaction — always the same transaction as the business change it
// describes (spec.md §4.C5: "Inside the same transaction as the business
// change, insert one event row per semantic fact").
func (s *Storage) InsertOutboxEvent(tx *bbolt.Tx, e *OutboxEvent) error {
	return putJSON(tx, bucketOutboxEvents, e.TenantID, e.ID, e)
}

func (s *Storage) GetOutboxEvent(tx *bbolt.Tx, tenantID, id string) (*OutboxEvent, error) {
	var e OutboxEvent
	if err := getJSON(tx, bucketOutboxEvents, tenantID, id, &e); err != nil {
		if err == errNotFoundInBucket {
			return nil, NewNotFoundError("outbox event", id)
		}
		return nil, err
	}
	return &e, nil
}

// UnpublishedEvents returns every event for tenantID with PublishedAt ==
// nil, in insertion (seq) order — the publisher's work queue.
func (s *Storage) UnpublishedEvents(tx *bbolt.Tx, tenantID string) ([]*OutboxEvent, error) {
	var out []*OutboxEvent
	err := forEachTenant(tx, bucketOutboxEvents, tenantID, func(_, v []byte) error {
		var e OutboxEvent
		if err := jsonUnmarshalBytes(v, &e); err != nil {
			return err
		}
		if e.PublishedAt == nil {
			cp := e
			out = append(out, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEventsBySeq(out)
	return out, nil
}

// AllUnpublishedAcrossTenants scans every tenant bucket prefix for
// unpublished rows — used by the durable publisher worker, which has no
// single tenant in scope.
func (s *Storage) AllUnpublishedAcrossTenants(tx *bbolt.Tx) ([]*OutboxEvent, error) {
	var out []*OutboxEvent
	b := tx.Bucket(bucketOutboxEvents)
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var e OutboxEvent
		if err := json.Unmarshal(v, &e); err != nil {
			return nil, err
		}
		if e.PublishedAt == nil {
			cp := e
			out = append(out, &cp)
		}
	}
	sortEventsBySeq(out)
	return out, nil
}

func sortEventsBySeq(events []*OutboxEvent) {
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].Seq < events[j-1].Seq; j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
}

// MarkPublished stamps publishedAt on an event, inside an open transaction.
func (s *Storage) MarkPublished(tx *bbolt.Tx, e *OutboxEvent) error {
	now := time.Now().UTC()
	e.PublishedAt = &now
	return s.InsertOutboxEvent(tx, e)
}

// ----------------------------------------------------------------------------
// Fast-path publish + durable publisher --------------------------------------
// ----------------------------------------------------------------------------

// EventPublisher is the fast-path + durable-drain transport. Concrete
// transport is Redis pub/sub, per evalgo-org-eve's queue/redis/queue.go
// connection pattern, used here as the "separate publisher" transport
// spec.md §4.C5 requires rather than as a job queue.
type EventPublisher struct {
	redis *redis.Client
	log   *logrus.Logger
}

func NewEventPublisher(redisAddr string, log *logrus.Logger) *EventPublisher {
	opts := &redis.Options{Addr: redisAddr}
	return &EventPublisher{redis: redis.NewClient(opts), log: log}
}

func (p *EventPublisher) Close() error { return p.redis.Close() }

// PublishFastPath attempts a single synchronous publish after commit.
// Failure is logged and non-fatal — never surfaced to the caller (spec.md
// §4.C5, §7): "the synchronous path is a best-effort hint, never
// load-bearing" (spec.md §9).
func (p *EventPublisher) PublishFastPath(ctx context.Context, e *OutboxEvent) bool {
	data, err := json.Marshal(e)
	if err != nil {
		p.log.WithError(err).Warn("outbox: failed to marshal event for fast-path publish")
		return false
	}
	channel := "events:" + e.TenantID
	if err := p.redis.Publish(ctx, channel, data).Err(); err != nil {
		p.log.WithError(err).WithField("event_id", e.EventID).Warn("outbox: fast-path publish failed, durable publisher will retry")
		return false
	}
	return true
}

// DrainOnce scans every tenant for unpublished rows and retries
// publication with bounded backoff, marking each success. Intended to be
// called on a ticker from cmd/server's publisher worker goroutine — the
// independent worker pool spec.md §9 calls for, decoupled from the
// synchronous request path.
func (p *EventPublisher) DrainOnce(ctx context.Context, storage *Storage) error {
	var pending []*OutboxEvent
	err := storage.View(func(tx *bbolt.Tx) error {
		var err error
		pending, err = storage.AllUnpublishedAcrossTenants(tx)
		return err
	})
	if err != nil {
		return err
	}

	for _, e := range pending {
		bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
		published := false
		_ = backoff.Retry(func() error {
			if p.PublishFastPath(ctx, e) {
				published = true
				return nil
			}
			return NewInternalError("publish retry")
		}, bo)
		if !published {
			continue
		}
		if err := storage.Update(func(tx *bbolt.Tx) error {
			fresh, err := storage.GetOutboxEvent(tx, e.TenantID, e.ID)
			if err != nil {
				return err
			}
			return storage.MarkPublished(tx, fresh)
		}); err != nil {
			p.log.WithError(err).Warn("outbox: failed to mark event published")
		}
	}
	return nil
}
