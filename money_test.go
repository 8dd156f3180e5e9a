package cashflow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMoneyRoundsToTwoDecimalPlaces(t *testing.T) {
	m, err := NewMoney("10.005")
	require.NoError(t, err)
	assert.Equal(t, "10.01", m.String())
}

func TestMoneyArithmeticRoundsEveryStep(t *testing.T) {
	a, _ := NewMoney("10.005")
	b, _ := NewMoney("0.004")
	assert.Equal(t, "10.00", a.Sub(b).String())
	assert.True(t, a.Add(b).Equal(a))
}

func TestMoneyMulRateRoundsToTwoDecimals(t *testing.T) {
	amount, _ := NewMoney("99.99")
	rate, err := NewRate("0.0825")
	require.NoError(t, err)
	assert.Equal(t, "8.25", amount.MulRate(rate).String())
}

func TestMoneyDivQtyByZeroReturnsZero(t *testing.T) {
	amount, _ := NewMoney("50.00")
	assert.True(t, amount.DivQty(decimal.Zero).IsZero())
}

func TestMoneyDivQtyComputesUnitCost(t *testing.T) {
	total, _ := NewMoney("100.00")
	unit := total.DivQty(decimal.NewFromInt(3))
	assert.Equal(t, "33.33", unit.String())
}

func TestMoneyComparisons(t *testing.T) {
	a, _ := NewMoney("5.00")
	b, _ := NewMoney("10.00")
	assert.True(t, b.GreaterThan(a))
	assert.True(t, a.LessThan(b))
	assert.Equal(t, -1, a.Cmp(b))
	assert.True(t, a.IsPositive())
	assert.True(t, a.Neg().IsNegative())
	assert.True(t, ZeroMoney.IsZero())
}

func TestMoneyJSONRoundTripsAsString(t *testing.T) {
	m, _ := NewMoney("42.50")
	b, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `"42.50"`, string(b))

	var decoded Money
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.True(t, decoded.Equal(m))
}

func TestMoneyJSONAcceptsPlainNumber(t *testing.T) {
	var decoded Money
	require.NoError(t, json.Unmarshal([]byte(`42.5`), &decoded))
	assert.Equal(t, "42.50", decoded.String())
}

func TestMoneyFromCentsAndFloat(t *testing.T) {
	assert.Equal(t, "1.23", MoneyFromCents(123).String())
	assert.Equal(t, "1.50", MoneyFromFloat(1.5).String())
}

func TestNewRateRejectsOutOfRange(t *testing.T) {
	_, err := NewRate("1.5")
	require.Error(t, err)
	var domErr *DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, "VALIDATION", domErr.Code)

	_, err = NewRate("-0.01")
	require.Error(t, err)
}

func TestNewRateRoundsToFourDecimals(t *testing.T) {
	r, err := NewRate("0.082575")
	require.NoError(t, err)
	assert.Equal(t, "0.0826", r.String())
}

func TestDateTruncatesTimeOfDayToUTC(t *testing.T) {
	d := NewDate(time.Date(2026, 3, 15, 23, 59, 0, 0, time.FixedZone("X", 5*3600)))
	assert.Equal(t, "2026-03-15", d.String())
}

func TestParseDateAcceptsBareAndRFC3339(t *testing.T) {
	d1, err := ParseDate("2026-01-05")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-05", d1.String())

	d2, err := ParseDate("2026-01-05T10:00:00Z")
	require.NoError(t, err)
	assert.True(t, d1.Equal(d2))
}

func TestParseDateRejectsGarbage(t *testing.T) {
	_, err := ParseDate("not-a-date")
	require.Error(t, err)
}

func TestDateOrderingHelpers(t *testing.T) {
	early, _ := ParseDate("2026-01-01")
	late, _ := ParseDate("2026-02-01")
	assert.True(t, early.Before(late))
	assert.True(t, late.After(early))
	assert.False(t, early.Equal(late))
}

func TestTodayPanicsOnNilLocation(t *testing.T) {
	assert.Panics(t, func() { Today(nil) })
}

func TestLoadTimeZoneFallsBackToUTCForUnknownName(t *testing.T) {
	assert.Equal(t, time.UTC, LoadTimeZone(""))
	assert.Equal(t, time.UTC, LoadTimeZone("Not/AZone"))
}
