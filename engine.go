package cashflow

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

// Engine is the main entry point for the ledger core, wiring storage, the
// distributed lock manager, the outbox publisher, and period-close policy
// together, the way ahmed-com-fin's AccountingEngine wires its own
// storage/eventStore/postingEngine/services. Adapted to the narrower set
// of collaborators SPEC_FULL.md actually names.
type Engine struct {
	Storage      *Storage
	Locks        *LockManager
	Publisher    *EventPublisher
	PeriodLookup PeriodLookup
	Log          *logrus.Logger
	config       Config
}

// NewEngine wires every ambient and domain dependency from Config.
func NewEngine(cfg Config) (*Engine, error) {
	storage, err := NewStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	log := NewLogger(cfg.LogLevel, cfg.LogJSON)
	locks := NewLockManager(cfg.RedisAddr, cfg.LockTTL, log)
	publisher := NewEventPublisher(cfg.RedisAddr, log)
	periodLookup := &StoragePeriodLookup{Storage: storage}

	return &Engine{
		Storage:      storage,
		Locks:        locks,
		Publisher:    publisher,
		PeriodLookup: periodLookup,
		Log:          log,
		config:       cfg,
	}, nil
}

// Close releases every resource the engine opened.
func (e *Engine) Close() error {
	if err := e.Locks.Close(); err != nil {
		e.Log.WithError(err).Warn("engine: error closing lock manager")
	}
	if err := e.Publisher.Close(); err != nil {
		e.Log.WithError(err).Warn("engine: error closing event publisher")
	}
	return e.Storage.Close()
}

// PublishFastPath attempts synchronous delivery of every event emitted by
// a just-committed transaction and marks each delivered event published;
// failures are logged, never surfaced — per spec.md §4.C5/§9, the durable
// publisher worker (Publisher.DrainOnce, run on a ticker from cmd/server)
// is the load-bearing path. Called by internal/httpapi handlers
// immediately after each write transaction commits.
func (e *Engine) PublishFastPath(events []*OutboxEvent) {
	ctx := context.Background()
	for _, ev := range events {
		if !e.Publisher.PublishFastPath(ctx, ev) {
			continue
		}
		if err := e.Storage.Update(func(tx *bbolt.Tx) error {
			fresh, err := e.Storage.GetOutboxEvent(tx, ev.TenantID, ev.ID)
			if err != nil {
				return err
			}
			return e.Storage.MarkPublished(tx, fresh)
		}); err != nil {
			e.Log.WithError(err).Warn("outbox: failed to mark event published")
		}
	}
}
