package types

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_DecimalIntegerRoundTrip validates that any integer value
// survives the store representation as a native int64: a fixed-point
// 42.0 must come back as the integer 42, never as a float.
func TestProperty_DecimalIntegerRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("integers round-trip as int64", prop.ForAll(
		func(n int64) bool {
			d := DecimalFromInt(n)
			got, ok := d.Native().(int64)
			return ok && got == n
		},
		gen.Int64(),
	))

	properties.Property("integers with trailing .0 stay integral", prop.ForAll(
		func(n int64) bool {
			d, err := ParseDecimal(DecimalFromInt(n).String() + ".0")
			if err != nil {
				return false
			}
			got, ok := d.Native().(int64)
			return ok && got == n
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// TestProperty_DecimalFloatRoundTrip validates that fractional values
// round-trip through the decimal form as float64 without loss.
func TestProperty_DecimalFloatRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("fractional floats round-trip as float64", prop.ForAll(
		func(f float64) bool {
			d, err := DecimalFromFloat(f)
			if err != nil {
				return false
			}
			back, err := d.Float64()
			if err != nil {
				return false
			}
			return back == f
		},
		gen.Float64Range(-1e9, 1e9).SuchThat(func(f float64) bool {
			return f != math.Trunc(f)
		}),
	))

	properties.Property("string form re-parses to an equal value", prop.ForAll(
		func(f float64) bool {
			d, err := DecimalFromFloat(f)
			if err != nil {
				return false
			}
			again, err := ParseDecimal(d.String())
			if err != nil {
				return false
			}
			return d.Cmp(again) == 0 && d.String() == again.String()
		},
		gen.Float64Range(-1e12, 1e12),
	))

	properties.TestingRun(t)
}

// TestProperty_DecimalCmpMatchesFloatOrder validates the digit-wise
// comparison against float ordering on values where floats are exact.
func TestProperty_DecimalCmpMatchesFloatOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Cmp agrees with int64 ordering", prop.ForAll(
		func(a, b int64) bool {
			da := DecimalFromInt(a)
			db := DecimalFromInt(b)
			switch {
			case a < b:
				return da.Cmp(db) < 0
			case a > b:
				return da.Cmp(db) > 0
			default:
				return da.Cmp(db) == 0
			}
		},
		gen.Int64(),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
