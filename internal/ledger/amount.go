package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Amount is a monetary value in integer microdollars (1e-6 USD).
//
// Integer representation keeps budget arithmetic exact; conversion to and
// from float dollars happens only at the API boundary.
type Amount int64

// MicrosPerDollar is the Amount scale factor.
const MicrosPerDollar = 1_000_000

// maxDollars is the largest dollar value representable without overflow.
var maxDollars = float64(math.MaxInt64) / MicrosPerDollar

// FromDollars converts a dollar value to an Amount, rounding to the nearest
// microdollar. Negative, NaN, infinite, and overflowing values are rejected
// with ErrInvalidAmount.
func FromDollars(d float64) (Amount, error) {
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, fmt.Errorf("%w: must be finite, got %v", ErrInvalidAmount, d)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: must not be negative, got %v", ErrInvalidAmount, d)
	}
	if d >= maxDollars {
		return 0, fmt.Errorf("%w: %v overflows", ErrInvalidAmount, d)
	}
	return Amount(math.Round(d * MicrosPerDollar)), nil
}

// MustDollars is FromDollars that panics on invalid input. Intended for
// constants and tests.
func MustDollars(d float64) Amount {
	a, err := FromDollars(d)
	if err != nil {
		panic(err)
	}
	return a
}

// Dollars returns the value in float dollars.
func (a Amount) Dollars() float64 {
	return float64(a) / MicrosPerDollar
}

// String formats the amount as dollars, e.g. "$0.05".
func (a Amount) String() string {
	return "$" + strconv.FormatFloat(a.Dollars(), 'f', -1, 64)
}

// MarshalJSON encodes the amount as a float dollar value.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Dollars())
}

// UnmarshalJSON decodes a float dollar value, applying the same range checks
// as FromDollars.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var d float64
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	parsed, err := FromDollars(d)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
