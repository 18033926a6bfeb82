// Package quantity provides the fixed-precision decimal used for every physical
// and economic value in the simulation.
package quantity

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Precision is the number of significant digits kept after every operation.
const Precision = 100

// MaxExponent bounds the decimal exponent of the leading digit of a parsed
// value. Anything larger would make comparisons rescale to huge coefficients.
const MaxExponent = 1000

// ErrOutOfRange is returned by Parse for values whose magnitude exceeds MaxExponent.
var ErrOutOfRange = errors.New("quantity out of range")

const maxTextLen = 2 * (Precision + MaxExponent)

var numericPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// Quantity is an immutable decimal rounded toward negative infinity at
// Precision significant digits. The zero value is 0.
type Quantity struct {
	d decimal.Decimal
}

var (
	Zero     = Quantity{}
	One      = FromInt(1)
	C        = FromInt(299792458)
	CSquared = C.Mul(C)
	// TimeUnit converts wall-clock milliseconds into simulated seconds.
	TimeUnit = MustParse("0.001")
	// Epsilon is the clamp distance used at the c and zero boundaries.
	Epsilon = MustParse("1e-80")
)

func wrap(d decimal.Decimal) Quantity {
	return Quantity{d: normalize(d)}
}

func digits(d decimal.Decimal) int {
	c := d.Coefficient()
	if c.Sign() == 0 {
		return 1
	}
	return len(c.Abs(c).String())
}

func normalize(d decimal.Decimal) decimal.Decimal {
	n := digits(d)
	if n <= Precision {
		return d
	}
	places := -d.Exponent() - int32(n-Precision)
	return d.RoundFloor(places)
}

// FromInt returns the quantity for an integer.
func FromInt(v int64) Quantity {
	return Quantity{d: decimal.NewFromInt(v)}
}

// FromFloat returns the quantity for a float using its shortest decimal form.
func FromFloat(v float64) Quantity {
	return wrap(decimal.NewFromFloat(v))
}

// Parse reads a decimal string, accepting exponent notation.
func Parse(s string) (Quantity, error) {
	s = strings.TrimSpace(s)
	if len(s) > maxTextLen {
		return Zero, fmt.Errorf("%w: %d characters", ErrOutOfRange, len(s))
	}
	if !IsNumeric(s) {
		return Zero, fmt.Errorf("not a numeric string: %q", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, err
	}
	// A zero keeps its parsed exponent, which is just as costly to rescale.
	if d.IsZero() {
		return Zero, nil
	}
	if lead := digits(d) - 1 + int(d.Exponent()); lead > MaxExponent || lead < -MaxExponent {
		return Zero, fmt.Errorf("%w: %q", ErrOutOfRange, s)
	}
	return wrap(d), nil
}

// MustParse is Parse for package-level constants.
func MustParse(s string) Quantity {
	q, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return q
}

// IsNumeric reports whether s is a plain or exponent-notation decimal string.
func IsNumeric(s string) bool {
	return numericPattern.MatchString(s)
}

func (q Quantity) Add(o Quantity) Quantity { return wrap(q.d.Add(o.d)) }
func (q Quantity) Sub(o Quantity) Quantity { return wrap(q.d.Sub(o.d)) }
func (q Quantity) Mul(o Quantity) Quantity { return wrap(q.d.Mul(o.d)) }
func (q Quantity) Neg() Quantity           { return Quantity{d: q.d.Neg()} }

// Div returns q/o floored at Precision significant digits. It panics when o is zero.
func (q Quantity) Div(o Quantity) Quantity {
	if o.d.IsZero() {
		panic("quantity: division by zero")
	}
	if q.d.IsZero() {
		return Zero
	}
	// Leading digit positions decide how many decimal places keep Precision digits.
	magQ := digits(q.d) + int(q.d.Exponent())
	magO := digits(o.d) + int(o.d.Exponent())
	places := int32(Precision - (magQ - magO) + 1)
	quo, rem := q.d.QuoRem(o.d, places)
	if !rem.IsZero() && q.d.Sign()*o.d.Sign() < 0 {
		quo = quo.Sub(decimal.New(1, -places))
	}
	return wrap(quo)
}

// Sqrt returns the floor square root. Negative inputs panic.
func (q Quantity) Sqrt() Quantity {
	switch q.d.Sign() {
	case 0:
		return Zero
	case -1:
		panic("quantity: square root of negative value")
	}
	x := sqrtSeed(q.d)
	two := decimal.NewFromInt(2)
	for i := 0; i < 64; i++ {
		next := wrap(x.d.Add(q.Div(x).d)).Div(Quantity{d: two})
		if next.Equal(x) {
			break
		}
		x = next
	}
	// Newton settles within one unit of the last place; step down until x² ≤ q.
	ulp := decimal.New(1, x.d.Exponent())
	for x.d.Mul(x.d).GreaterThan(q.d) {
		x = Quantity{d: x.d.Sub(ulp)}
	}
	return x
}

func sqrtSeed(d decimal.Decimal) Quantity {
	f := d.InexactFloat64()
	if f > 0 && !math.IsInf(f, 0) {
		if s := math.Sqrt(f); s > 0 && !math.IsInf(s, 0) {
			return FromFloat(s)
		}
	}
	mag := digits(d) + int(d.Exponent())
	return Quantity{d: decimal.New(1, int32(mag/2))}
}

// Pow raises q to a non-negative integer power.
func (q Quantity) Pow(n int) Quantity {
	out := One
	for i := 0; i < n; i++ {
		out = out.Mul(q)
	}
	return out
}

// Floor rounds toward negative infinity to an integer.
func (q Quantity) Floor() Quantity { return Quantity{d: q.d.Floor()} }

func (q Quantity) Cmp(o Quantity) int                 { return q.d.Cmp(o.d) }
func (q Quantity) Equal(o Quantity) bool              { return q.d.Equal(o.d) }
func (q Quantity) GreaterThan(o Quantity) bool        { return q.d.GreaterThan(o.d) }
func (q Quantity) GreaterThanOrEqual(o Quantity) bool { return q.d.GreaterThanOrEqual(o.d) }
func (q Quantity) LessThan(o Quantity) bool           { return q.d.LessThan(o.d) }
func (q Quantity) LessThanOrEqual(o Quantity) bool    { return q.d.LessThanOrEqual(o.d) }
func (q Quantity) Sign() int                          { return q.d.Sign() }
func (q Quantity) IsZero() bool                       { return q.d.IsZero() }
func (q Quantity) IsPositive() bool                   { return q.d.IsPositive() }
func (q Quantity) IsNegative() bool                   { return q.d.IsNegative() }

// Float64 is for display and logging; it loses precision.
func (q Quantity) Float64() float64 { return q.d.InexactFloat64() }

// Int64 truncates toward zero.
func (q Quantity) Int64() int64 { return q.d.IntPart() }

// BigInt returns the integer part.
func (q Quantity) BigInt() *big.Int { return q.d.BigInt() }

func (q Quantity) String() string { return q.d.String() }

// Min returns the smallest of the given quantities.
func Min(first Quantity, rest ...Quantity) Quantity {
	out := first
	for _, q := range rest {
		if q.LessThan(out) {
			out = q
		}
	}
	return out
}

// Max returns the largest of the given quantities.
func Max(first Quantity, rest ...Quantity) Quantity {
	out := first
	for _, q := range rest {
		if q.GreaterThan(out) {
			out = q
		}
	}
	return out
}

// MarshalJSON encodes the quantity as a decimal string so no precision is lost
// to JSON number parsers.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + q.d.String() + `"`), nil
}

// UnmarshalJSON accepts a numeric string or a bare JSON number.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*q = Zero
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*q = v
	return nil
}

func (q Quantity) MarshalText() ([]byte, error) {
	return []byte(q.d.String()), nil
}

func (q *Quantity) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*q = v
	return nil
}
