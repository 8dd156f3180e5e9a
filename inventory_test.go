package cashflow

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func qty(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestApplyStockMoveWeightedAverageCost(t *testing.T) {
	s := newTestStorage(t)
	tenantID := "tenant-1"

	err := s.Update(func(tx *bbolt.Tx) error {
		// First receipt: 10 units @ $10.00 -> unit cost $10.00
		res, err := s.ApplyStockMove(tx, StockMoveInput{
			TenantID:        tenantID,
			LocationID:      "loc-1",
			ItemID:          "item-1",
			Date:            Today(time.UTC),
			Type:            MovePurchaseReceipt,
			Direction:       DirectionIn,
			Quantity:        qty(t, "10"),
			UnitCostApplied: mustMoney(t, "10.00"),
			ReferenceType:   "PurchaseBill",
			ReferenceID:     "pb-1",
		})
		require.NoError(t, err)
		assert.Nil(t, res.RequiresInventoryRecalcFromDate)

		// Second receipt: 10 units @ $20.00 -> blended unit cost $15.00
		_, err = s.ApplyStockMove(tx, StockMoveInput{
			TenantID:        tenantID,
			LocationID:      "loc-1",
			ItemID:          "item-1",
			Date:            Today(time.UTC),
			Type:            MovePurchaseReceipt,
			Direction:       DirectionIn,
			Quantity:        qty(t, "10"),
			UnitCostApplied: mustMoney(t, "20.00"),
			ReferenceType:   "PurchaseBill",
			ReferenceID:     "pb-2",
		})
		require.NoError(t, err)

		bal, err := s.GetStockBalance(tx, tenantID, "loc-1", "item-1")
		require.NoError(t, err)
		assert.True(t, bal.Quantity.Equal(qty(t, "20")))
		assert.True(t, bal.UnitCost.Equal(mustMoney(t, "15.00")))
		return nil
	})
	require.NoError(t, err)
}

func TestApplyStockMoveOutOfStock(t *testing.T) {
	s := newTestStorage(t)
	tenantID := "tenant-1"

	err := s.Update(func(tx *bbolt.Tx) error {
		_, err := s.ApplyStockMove(tx, StockMoveInput{
			TenantID:        tenantID,
			LocationID:      "loc-1",
			ItemID:          "item-1",
			Date:            Today(time.UTC),
			Type:            MoveSaleIssue,
			Direction:       DirectionOut,
			Quantity:        qty(t, "5"),
			ReferenceType:   "Invoice",
			ReferenceID:     "inv-1",
		})
		return err
	})
	require.Error(t, err)
	var domErr *DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, "OUT_OF_STOCK", domErr.Code)
}

func TestApplyStockMoveDetectsBackdatedInsert(t *testing.T) {
	s := newTestStorage(t)
	tenantID := "tenant-1"

	today := Today(time.UTC)
	yesterday := NewDate(today.Time().AddDate(0, 0, -1))

	err := s.Update(func(tx *bbolt.Tx) error {
		_, err := s.ApplyStockMove(tx, StockMoveInput{
			TenantID:        tenantID,
			LocationID:      "loc-1",
			ItemID:          "item-1",
			Date:            today,
			Type:            MovePurchaseReceipt,
			Direction:       DirectionIn,
			Quantity:        qty(t, "10"),
			UnitCostApplied: mustMoney(t, "10.00"),
			ReferenceType:   "PurchaseBill",
			ReferenceID:     "pb-1",
		})
		require.NoError(t, err)

		res, err := s.ApplyStockMove(tx, StockMoveInput{
			TenantID:        tenantID,
			LocationID:      "loc-1",
			ItemID:          "item-1",
			Date:            yesterday,
			Type:            MovePurchaseReceipt,
			Direction:       DirectionIn,
			Quantity:        qty(t, "5"),
			UnitCostApplied: mustMoney(t, "8.00"),
			ReferenceType:   "PurchaseBill",
			ReferenceID:     "pb-0",
		})
		require.NoError(t, err)
		require.NotNil(t, res.RequiresInventoryRecalcFromDate)
		assert.True(t, res.RequiresInventoryRecalcFromDate.Equal(yesterday))
		return nil
	})
	require.NoError(t, err)
}

func TestAllocateFIFOReturn(t *testing.T) {
	s := newTestStorage(t)
	tenantID := "tenant-1"

	err := s.Update(func(tx *bbolt.Tx) error {
		_, err := s.ApplyStockMove(tx, StockMoveInput{
			TenantID:        tenantID,
			LocationID:      "loc-1",
			ItemID:          "item-1",
			Date:            Today(time.UTC),
			Type:            MovePurchaseReceipt,
			Direction:       DirectionIn,
			Quantity:        qty(t, "10"),
			UnitCostApplied: mustMoney(t, "10.00"),
			ReferenceType:   "PurchaseBill",
			ReferenceID:     "pb-1",
		})
		require.NoError(t, err)

		_, err = s.ApplyStockMove(tx, StockMoveInput{
			TenantID:        tenantID,
			LocationID:      "loc-1",
			ItemID:          "item-1",
			Date:            Today(time.UTC),
			Type:            MoveSaleIssue,
			Direction:       DirectionOut,
			Quantity:        qty(t, "3"),
			ReferenceType:   "Invoice",
			ReferenceID:     "inv-1",
		})
		require.NoError(t, err)

		allocations, remaining, err := s.AllocateFIFOReturn(tx, tenantID, "inv-1", "item-1", qty(t, "2"))
		require.NoError(t, err)
		assert.True(t, remaining.IsZero())
		require.Len(t, allocations, 1)
		assert.True(t, allocations[0].Quantity.Equal(qty(t, "2")))

		_, remaining, err = s.AllocateFIFOReturn(tx, tenantID, "inv-1", "item-1", qty(t, "5"))
		require.NoError(t, err)
		assert.True(t, remaining.Equal(qty(t, "2")), "over-return leftover should be flagged")
		return nil
	})
	require.NoError(t, err)
}
