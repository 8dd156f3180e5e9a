package cashflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecomputeDocumentTotals(t *testing.T) {
	rate, err := NewRate("0.10")
	require.NoError(t, err)

	lines := []DocumentLine{
		{ID: "l1", Quantity: qty(t, "2"), UnitPrice: mustMoney(t, "50.00"), AccountID: "income-1", TaxRate: rate},
		{ID: "l2", Quantity: qty(t, "1"), UnitPrice: mustMoney(t, "30.00"), Discount: mustMoney(t, "5.00"), AccountID: "income-2"},
	}

	totals, err := recomputeDocumentTotals(lines)
	require.NoError(t, err)

	assert.True(t, totals.Subtotal.Equal(mustMoney(t, "125.00")), "subtotal should sum (100 + 25)")
	assert.True(t, totals.TaxAmount.Equal(mustMoney(t, "10.00")), "only the taxed line contributes tax")
	assert.True(t, totals.Total.Equal(mustMoney(t, "135.00")))
	assert.Equal(t, []string{"income-1", "income-2"}, totals.AccountOrder)
	assert.True(t, totals.BucketsByAccount["income-1"].Equal(mustMoney(t, "100.00")))
	assert.True(t, totals.BucketsByAccount["income-2"].Equal(mustMoney(t, "25.00")))
}

func TestRecomputeDocumentTotalsRejectsZeroQuantity(t *testing.T) {
	lines := []DocumentLine{
		{ID: "l1", Quantity: qty(t, "0"), UnitPrice: mustMoney(t, "50.00"), AccountID: "income-1"},
	}
	_, err := recomputeDocumentTotals(lines)
	require.Error(t, err)
	var domErr *DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, "VALIDATION", domErr.Code)
}

func TestRecomputeDocumentTotalsRejectsDiscountExceedingSubtotal(t *testing.T) {
	lines := []DocumentLine{
		{ID: "l1", Quantity: qty(t, "1"), UnitPrice: mustMoney(t, "10.00"), Discount: mustMoney(t, "20.00"), AccountID: "income-1"},
	}
	_, err := recomputeDocumentTotals(lines)
	require.Error(t, err)
}

func TestCheckRoundingMatches(t *testing.T) {
	assert.NoError(t, checkRoundingMatches(mustMoney(t, "10.00"), mustMoney(t, "10.00")))

	err := checkRoundingMatches(mustMoney(t, "10.01"), mustMoney(t, "10.00"))
	require.Error(t, err)
	var domErr *DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, "ROUNDING_MISMATCH", domErr.Code)
}

func TestDocumentBucketPostLinesDebitVsCredit(t *testing.T) {
	lines := []DocumentLine{
		{ID: "l1", Quantity: qty(t, "1"), UnitPrice: mustMoney(t, "100.00"), AccountID: "acct-1"},
	}

	credit := documentBucketPostLines(lines, false)
	require.Len(t, credit, 1)
	assert.True(t, credit[0].Credit.Equal(mustMoney(t, "100.00")))
	assert.True(t, credit[0].Debit.IsZero())

	debit := documentBucketPostLines(lines, true)
	require.Len(t, debit, 1)
	assert.True(t, debit[0].Debit.Equal(mustMoney(t, "100.00")))
	assert.True(t, debit[0].Credit.IsZero())
}
