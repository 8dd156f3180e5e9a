package cashflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func TestCheckPeriodOpenRejectsClosedPeriod(t *testing.T) {
	s := newTestStorage(t)
	tenantID := "tenant-1"

	jan1 := NewDate(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	jan31 := NewDate(time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC))
	now := time.Now().UTC()

	err := s.Update(func(tx *bbolt.Tx) error {
		return s.SavePeriod(tx, &Period{
			TenantID:     tenantID,
			ID:           "period-jan",
			Name:         "January 2026",
			Start:        jan1,
			End:          jan31,
			HardClosedAt: &now,
		})
	})
	require.NoError(t, err)

	lookup := &StoragePeriodLookup{Storage: s}
	midJan := NewDate(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))

	err = CheckPeriodOpen(context.Background(), lookup, tenantID, midJan)
	require.Error(t, err)
	var domErr *DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, "PERIOD_CLOSED", domErr.Code)

	feb1 := NewDate(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	assert.NoError(t, CheckPeriodOpen(context.Background(), lookup, tenantID, feb1))
}

func TestCheckPeriodOpenNilLookupAllowsEverything(t *testing.T) {
	assert.NoError(t, CheckPeriodOpen(context.Background(), nil, "tenant-1", Today(time.UTC)))
}
