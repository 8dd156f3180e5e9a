package cashflow

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Money is a decimal amount rescaled to 2 places at every arithmetic
// boundary. All ledger, document, and stock-cost values are Money; float
// arithmetic never appears on a money path.
type Money struct {
	d decimal.Decimal
}

// ZeroMoney is the additive identity.
var ZeroMoney = Money{d: decimal.Zero}

// NewMoney builds a Money from a decimal string such as "100.00" or "-3.5".
func NewMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid money value %q: %w", s, err)
	}
	return Money{d: d.Round(2)}, nil
}

// MoneyFromFloat builds a Money from a float64, for call sites that only
// have a numeric JSON value on hand. Prefer NewMoney wherever the
// raw wire representation is available.
func MoneyFromFloat(f float64) Money {
	return Money{d: decimal.NewFromFloat(f).Round(2)}
}

// MoneyFromCents builds a Money from an integer minor-unit count.
func MoneyFromCents(cents int64) Money {
	return Money{d: decimal.New(cents, -2)}
}

func (m Money) String() string { return m.d.StringFixed(2) }

// Decimal exposes the underlying decimal.Decimal for call sites that need
// to perform cross-type math (e.g. Money × Rate).
func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d).Round(2)} }
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d).Round(2)} }
func (m Money) Neg() Money        { return Money{d: m.d.Neg()} }

// Mul multiplies by a plain decimal factor (e.g. a quantity), rounding the
// result to 2dp.
func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{d: m.d.Mul(factor).Round(2)}
}

// MulRate multiplies by a Rate (e.g. tax or discount), rounding to 2dp.
func (m Money) MulRate(r Rate) Money {
	return Money{d: m.d.Mul(r.d).Round(2)}
}

// DivQty divides by a quantity, producing a unit-cost Money rounded to 2dp.
// Division by zero returns ZeroMoney; callers must guard the zero-quantity
// case themselves (it is always a caller bug to divide stock cost by zero).
func (m Money) DivQty(qty decimal.Decimal) Money {
	if qty.IsZero() {
		return ZeroMoney
	}
	return Money{d: m.d.DivRound(qty, 2)}
}

func (m Money) IsZero() bool           { return m.d.IsZero() }
func (m Money) IsNegative() bool       { return m.d.IsNegative() }
func (m Money) IsPositive() bool       { return m.d.IsPositive() }
func (m Money) Equal(o Money) bool     { return m.d.Equal(o.d) }
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }
func (m Money) LessThan(o Money) bool    { return m.d.LessThan(o.d) }
func (m Money) Cmp(o Money) int           { return m.d.Cmp(o.d) }

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.d.StringFixed(2))
}

func (m *Money) UnmarshalJSON(b []byte) error {
	// Accept either a JSON number or a numeric string, per spec.md §6
	// ("monetary values as decimal numbers or numeric strings").
	var asString string
	if err := json.Unmarshal(b, &asString); err == nil {
		d, err := decimal.NewFromString(asString)
		if err != nil {
			return fmt.Errorf("invalid money string %q: %w", asString, err)
		}
		m.d = d.Round(2)
		return nil
	}
	var asNumber decimal.Decimal
	if err := json.Unmarshal(b, &asNumber); err != nil {
		return fmt.Errorf("invalid money value: %w", err)
	}
	m.d = asNumber.Round(2)
	return nil
}

// Value / Scan implement database/sql's driver.Valuer/Scanner so Money can
// be stored as a plain TEXT column if a relational backend is ever swapped
// in for the bbolt Storage used here.
func (m Money) Value() (driver.Value, error) { return m.d.StringFixed(2), nil }

func (m *Money) Scan(v interface{}) error {
	switch t := v.(type) {
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return err
		}
		m.d = d.Round(2)
		return nil
	case []byte:
		d, err := decimal.NewFromString(string(t))
		if err != nil {
			return err
		}
		m.d = d.Round(2)
		return nil
	default:
		return fmt.Errorf("unsupported Money scan type %T", v)
	}
}

// Rate is a decimal in [0,1] rescaled to 4dp, used for tax rates and
// discount rates.
type Rate struct {
	d decimal.Decimal
}

var ZeroRate = Rate{d: decimal.Zero}

// NewRate parses and validates a rate string, e.g. "0.0825".
func NewRate(s string) (Rate, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Rate{}, fmt.Errorf("invalid rate value %q: %w", s, err)
	}
	r := Rate{d: d.Round(4)}
	if r.d.LessThan(decimal.Zero) || r.d.GreaterThan(decimal.NewFromInt(1)) {
		return Rate{}, NewValidationError(fmt.Sprintf("tax/discount rate must be in [0,1], got %s", s))
	}
	return r, nil
}

func (r Rate) String() string       { return r.d.StringFixed(4) }
func (r Rate) IsZero() bool         { return r.d.IsZero() }
func (r Rate) Decimal() decimal.Decimal { return r.d }

func (r Rate) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.d.StringFixed(4))
}

func (r *Rate) UnmarshalJSON(b []byte) error {
	var asString string
	if err := json.Unmarshal(b, &asString); err == nil {
		d, err := decimal.NewFromString(asString)
		if err != nil {
			return err
		}
		r.d = d.Round(4)
		return nil
	}
	var asNumber decimal.Decimal
	if err := json.Unmarshal(b, &asNumber); err != nil {
		return err
	}
	r.d = asNumber.Round(4)
	return nil
}

// Date is a calendar day with no time-of-day component, always normalized
// to UTC midnight. Document dates, journal-entry dates, and stock-move
// dates are all Date, never a raw time.Time.
type Date struct {
	t time.Time
}

const dateLayout = "2006-01-02"

// NewDate truncates an arbitrary time.Time to its UTC calendar day.
func NewDate(t time.Time) Date {
	u := t.UTC()
	return Date{t: time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts full ISO-8601 timestamps or bare "2006-01-02" dates,
// per spec.md §6 ("day-precision accepted and normalized").
func ParseDate(s string) (Date, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Date{t: t}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return NewDate(t), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return NewDate(t), nil
	}
	return Date{}, NewValidationError(fmt.Sprintf("invalid date %q: expected ISO-8601", s))
}

// Today returns today's Date in the given IANA time zone, used by the
// future-dated-inventory check in invoice/bill posting (spec.md §4.C9).
func Today(loc *time.Location) Date {
	return NewDate(time.Now().In(loc))
}

func (d Date) Time() time.Time    { return d.t }
func (d Date) String() string     { return d.t.Format(dateLayout) }
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool  { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool  { return d.t.Equal(o.t) }
func (d Date) IsZero() bool       { return d.t.IsZero() }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// LoadTimeZone resolves a tenant's configured IANA time zone, defaulting to
// UTC when unset or unrecognized (never fails a write because of a bad tz
// string; the tenant-scope validation layer is responsible for rejecting
// one at configuration time).
func LoadTimeZone(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
