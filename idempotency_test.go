package cashflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func TestRunIdempotentCommandReplaysOnSameKey(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	calls := 0

	fn := func(tx *bbolt.Tx) (interface{}, int, error) {
		calls++
		return map[string]string{"result": "ok"}, 201, nil
	}

	body1, status1, err := s.RunIdempotentCommand(ctx, "tenant-1", "key-1", fn)
	require.NoError(t, err)
	assert.Equal(t, 201, status1)
	assert.JSONEq(t, `{"result":"ok"}`, string(body1))

	body2, status2, err := s.RunIdempotentCommand(ctx, "tenant-1", "key-1", fn)
	require.NoError(t, err)
	assert.Equal(t, 201, status2)
	assert.JSONEq(t, string(body1), string(body2))
	assert.Equal(t, 1, calls, "fn must only run once; the second call replays the cached response")
}

func TestRunIdempotentCommandRetriesAfterFailure(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	calls := 0

	fn := func(tx *bbolt.Tx) (interface{}, int, error) {
		calls++
		if calls == 1 {
			return nil, 0, NewValidationError("boom")
		}
		return map[string]string{"result": "ok"}, 200, nil
	}

	_, _, err := s.RunIdempotentCommand(ctx, "tenant-1", "key-2", fn)
	require.Error(t, err)

	body, status, err := s.RunIdempotentCommand(ctx, "tenant-1", "key-2", fn)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.JSONEq(t, `{"result":"ok"}`, string(body))
	assert.Equal(t, 2, calls, "a failed attempt must not poison the key")
}

func TestRunIdempotentCommandIsolatedPerTenant(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	calls := 0

	fn := func(tx *bbolt.Tx) (interface{}, int, error) {
		calls++
		return map[string]int{"calls": calls}, 200, nil
	}

	_, _, err := s.RunIdempotentCommand(ctx, "tenant-a", "shared-key", fn)
	require.NoError(t, err)
	_, _, err = s.RunIdempotentCommand(ctx, "tenant-b", "shared-key", fn)
	require.NoError(t, err)

	assert.Equal(t, 2, calls, "the same key under different tenants must not collide")
}
