// Package money provides the single arbitrary-precision numeric type used
// for every price/size field between the exchange parser and the sinks.
// Floats are forbidden by construction: there is no float64 constructor.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimal wraps shopspring/decimal.Decimal and retains the exact input
// string it was parsed from, so a cache write reproduces the vendor's
// string byte-for-byte (bit-exact round trip) while a columnar insert can
// still use the parsed numeric value even when the canonical decimal
// string form differs from the input (e.g. "1.50" vs "1.5").
type Decimal struct {
	raw   string
	value decimal.Decimal
}

// Zero is the additive identity, matching the zero value of Decimal.
var Zero = Decimal{raw: "0", value: decimal.Zero}

// Parse converts an exchange-provided numeric string into a Decimal. It
// never goes through float64. An empty string is rejected; callers that
// need an optional numeric field should guard on presence before calling.
func Parse(s string) (Decimal, error) {
	if s == "" {
		return Decimal{}, fmt.Errorf("money: empty decimal string")
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return Decimal{raw: s, value: v}, nil
}

// MustParse is Parse but panics on error; reserved for literals in tests
// and scenario fixtures where the input is known to be valid.
func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromInt64 builds an exact integer Decimal whose raw string is the
// integer's decimal form.
func FromInt64(v int64) Decimal {
	return Decimal{raw: decimal.NewFromInt(v).String(), value: decimal.NewFromInt(v)}
}

// String returns the exact string the value was parsed from when one
// exists, and the canonical decimal string form otherwise. This is the
// form written to the cache sink (Testable Property 5: bit-exact
// round-trip).
func (d Decimal) String() string {
	if d.raw != "" {
		return d.raw
	}
	return d.value.String()
}

// Value exposes the underlying shopspring/decimal.Decimal for numeric
// operations (comparisons, arithmetic) and for columnar encoders that
// need the exact numeric value rather than the input string.
func (d Decimal) Value() decimal.Decimal {
	return d.value
}

func (d Decimal) IsZero() bool { return d.value.IsZero() }

func (d Decimal) Add(o Decimal) Decimal {
	return Decimal{value: d.value.Add(o.value)}
}

func (d Decimal) Sub(o Decimal) Decimal {
	return Decimal{value: d.value.Sub(o.value)}
}

func (d Decimal) Mul(o Decimal) Decimal {
	return Decimal{value: d.value.Mul(o.value)}
}

func (d Decimal) Cmp(o Decimal) int {
	return d.value.Cmp(o.value)
}

func (d Decimal) GreaterThan(o Decimal) bool { return d.value.GreaterThan(o.value) }
func (d Decimal) LessThan(o Decimal) bool    { return d.value.LessThan(o.value) }

// MarshalJSON renders the exact input string (quoted), matching the
// columnar writer's line-delimited JSON row encoding where numeric
// fields are emitted as strings to preserve precision across the wire.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}
