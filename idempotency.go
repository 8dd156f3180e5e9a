package cashflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.etcd.io/bbolt"
)

// IdempotencyStatus tracks the lifecycle of one idempotency-key row, per
// spec.md §4.C4.
type IdempotencyStatus string

const (
	IdempotencyInFlight IdempotencyStatus = "IN_FLIGHT"
	IdempotencyDone     IdempotencyStatus = "DONE"
	IdempotencyFailed   IdempotencyStatus = "FAILED"
)

// IdempotencyRecord is the persisted row for one (tenantID, key) pair.
type IdempotencyRecord struct {
	TenantID     string            `json:"tenant_id"`
	Key          string            `json:"key"`
	Status       IdempotencyStatus `json:"status"`
	ResponseJSON json.RawMessage   `json:"response_json,omitempty"`
	StatusCode   int               `json:"status_code,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

func idempotencyRowKey(key string) string { return key }

// beginIdempotentCommand atomically inserts an IN_FLIGHT row if none
// exists. Returns (existing record, true) if a row was already there —
// the caller must NOT proceed with the business logic in that case.
func (s *Storage) beginIdempotentCommand(tx *bbolt.Tx, tenantID, key string) (*IdempotencyRecord, bool, error) {
	var existing IdempotencyRecord
	err := getJSON(tx, bucketIdempotency, tenantID, idempotencyRowKey(key), &existing)
	if err == nil {
		return &existing, true, nil
	}
	if err != errNotFoundInBucket {
		return nil, false, err
	}

	rec := &IdempotencyRecord{
		TenantID:  tenantID,
		Key:       key,
		Status:    IdempotencyInFlight,
		CreatedAt: time.Now().UTC(),
	}
	if err := putJSON(tx, bucketIdempotency, tenantID, idempotencyRowKey(key), rec); err != nil {
		return nil, false, err
	}
	return rec, false, nil
}

// completeIdempotentCommand stamps the final outcome of a command onto its
// IN_FLIGHT row, inside the same transaction as the business change it
// guards (spec.md §4.C4: "the idempotency row transitions to DONE in the
// same transaction as the write it guards").
func (s *Storage) completeIdempotentCommand(tx *bbolt.Tx, tenantID, key string, status IdempotencyStatus, statusCode int, response interface{}) error {
	var rec IdempotencyRecord
	if err := getJSON(tx, bucketIdempotency, tenantID, idempotencyRowKey(key), &rec); err != nil {
		return err
	}
	payload, err := json.Marshal(response)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	rec.Status = status
	rec.StatusCode = statusCode
	rec.ResponseJSON = payload
	rec.CompletedAt = &now
	return putJSON(tx, bucketIdempotency, tenantID, idempotencyRowKey(key), &rec)
}

// getIdempotencyRecord loads a row, or nil if none exists, inside a
// read-only view.
func (s *Storage) getIdempotencyRecord(tx *bbolt.Tx, tenantID, key string) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	err := getJSON(tx, bucketIdempotency, tenantID, idempotencyRowKey(key), &rec)
	if err == errNotFoundInBucket {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// RunIdempotentCommand is the single entry point callers use to guard a
// write command with an idempotency key, per spec.md §4.C4. fn receives an
// open write transaction and must return the value to be JSON-encoded as
// the command's response; fn's own errors abort the transaction and mark
// the row FAILED so a retry with the same key is allowed to try again
// (spec.md §4.C4: "a command that fails does not poison the key").
//
// If another in-flight attempt for the same key is mid-transaction,
// RunIdempotentCommand blocks, polling with bounded exponential backoff,
// until that attempt resolves to DONE (whose response is replayed
// verbatim, unparsed — see DESIGN.md's decided Open Question on replay
// semantics) or FAILED (in which case this call proceeds as a fresh
// attempt) or the bound is exceeded, in which case it returns
// NewIdempotencyInFlightError.
func (s *Storage) RunIdempotentCommand(ctx context.Context, tenantID, key string, fn func(tx *bbolt.Tx) (interface{}, int, error)) (json.RawMessage, int, error) {
	for {
		var (
			shouldRun bool
			replay    *IdempotencyRecord
		)
		err := s.Update(func(tx *bbolt.Tx) error {
			rec, existed, err := s.beginIdempotentCommand(tx, tenantID, key)
			if err != nil {
				return err
			}
			if !existed {
				shouldRun = true
				return nil
			}
			switch rec.Status {
			case IdempotencyDone:
				replay = rec
			case IdempotencyFailed:
				// Reset to IN_FLIGHT and let this attempt run the command fresh.
				rec.Status = IdempotencyInFlight
				rec.ResponseJSON = nil
				rec.CompletedAt = nil
				if err := putJSON(tx, bucketIdempotency, tenantID, idempotencyRowKey(key), rec); err != nil {
					return err
				}
				shouldRun = true
			case IdempotencyInFlight:
				// Leave as-is; caller will poll outside this transaction.
			}
			return nil
		})
		if err != nil {
			return nil, 0, err
		}
		if replay != nil {
			return replay.ResponseJSON, replay.StatusCode, nil
		}
		if shouldRun {
			break
		}

		// Another attempt is IN_FLIGHT. Poll with bounded backoff rather
		// than spin, per spec.md §4.C4.
		if err := waitForIdempotencyResolution(ctx, s, tenantID, key); err != nil {
			return nil, 0, err
		}
		// Loop: re-check status, since the in-flight attempt has now resolved
		// (or the wait bound was hit and waitForIdempotencyResolution errored).
	}

	var (
		result     interface{}
		statusCode int
		runErr     error
	)
	err := s.Update(func(tx *bbolt.Tx) error {
		result, statusCode, runErr = fn(tx)
		if runErr != nil {
			return runErr
		}
		return s.completeIdempotentCommand(tx, tenantID, key, IdempotencyDone, statusCode, result)
	})
	if runErr != nil {
		if markErr := s.Update(func(tx *bbolt.Tx) error {
			return s.completeIdempotentCommand(tx, tenantID, key, IdempotencyFailed, 0, map[string]string{"error": runErr.Error()})
		}); markErr != nil {
			return nil, 0, markErr
		}
		return nil, 0, runErr
	}
	if err != nil {
		return nil, 0, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, 0, err
	}
	return payload, statusCode, nil
}

// waitForIdempotencyResolution polls the row's status with bounded
// exponential backoff until it leaves IN_FLIGHT, or gives up and returns
// NewIdempotencyInFlightError.
func waitForIdempotencyResolution(ctx context.Context, s *Storage, tenantID, key string) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 8), ctx)
	return backoff.Retry(func() error {
		var rec *IdempotencyRecord
		err := s.View(func(tx *bbolt.Tx) error {
			var err error
			rec, err = s.getIdempotencyRecord(tx, tenantID, key)
			return err
		})
		if err != nil {
			return backoff.Permanent(err)
		}
		if rec == nil || rec.Status == IdempotencyInFlight {
			return NewIdempotencyInFlightError(key)
		}
		return nil
	}, bo)
}
