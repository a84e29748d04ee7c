package ticket

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a monetary amount held at cent precision.
type Money struct {
	decimal.Decimal
}

// NewMoney creates a Money from a float, rounded to cents
func NewMoney(v float64) Money {
	return Money{decimal.NewFromFloat(v).Round(2)}
}

// MoneyFromDecimal rounds d to cents
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{d.Round(2)}
}

// ParseMoney parses a decimal string such as "12.50"
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return MoneyFromDecimal(d), nil
}

func (m Money) Add(o Money) Money {
	return MoneyFromDecimal(m.Decimal.Add(o.Decimal))
}

func (m Money) Sub(o Money) Money {
	return MoneyFromDecimal(m.Decimal.Sub(o.Decimal))
}

// Times multiplies the amount by a quantity and rounds back to cents.
func (m Money) Times(quantity float64) Money {
	return MoneyFromDecimal(m.Decimal.Mul(decimal.NewFromFloat(quantity)))
}

func (m Money) Equal(o Money) bool {
	return m.Decimal.Equal(o.Decimal)
}

func (m Money) String() string {
	return m.StringFixed(2)
}

// MarshalJSON writes the amount as a bare JSON number with two decimals
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.StringFixed(2)), nil
}

// UnmarshalJSON accepts both quoted and bare numbers
func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	m.Decimal = d.Round(2)
	return nil
}
