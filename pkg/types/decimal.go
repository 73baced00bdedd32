package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Decimal is an exact fixed-point decimal, kept as sign plus decimal
// digit strings. It is the storage representation for summary metrics:
// values survive store round-trips without binary float re-encoding, and
// an integral quantity stays recognizably integral (42.0 -> 42).
type Decimal struct {
	neg bool
	ip  string // integer digits, no leading zeros ("0" alone is valid)
	fp  string // fraction digits, trailing zeros stripped ("" when integral)
}

// ParseDecimal parses a decimal string such as "42", "42.0", "-3.50".
func ParseDecimal(s string) (Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Decimal{}, fmt.Errorf("decimal: empty string")
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	ip, fp := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		ip, fp = s[:i], s[i+1:]
	}
	if ip == "" && fp == "" {
		return Decimal{}, fmt.Errorf("decimal: no digits in %q", s)
	}
	for _, part := range []string{ip, fp} {
		for _, c := range part {
			if c < '0' || c > '9' {
				return Decimal{}, fmt.Errorf("decimal: invalid character %q in %q", c, s)
			}
		}
	}

	return canonical(neg, ip, fp), nil
}

// DecimalFromInt builds a Decimal from an integer.
func DecimalFromInt(n int64) Decimal {
	if n < 0 {
		return canonical(true, strconv.FormatInt(-n, 10), "")
	}
	return canonical(false, strconv.FormatInt(n, 10), "")
}

// DecimalFromFloat builds a Decimal from a float using the shortest
// representation that round-trips through float64.
func DecimalFromFloat(f float64) (Decimal, error) {
	return ParseDecimal(strconv.FormatFloat(f, 'f', -1, 64))
}

// canonical strips leading integer zeros and trailing fraction zeros,
// and normalizes -0 to 0.
func canonical(neg bool, ip, fp string) Decimal {
	ip = strings.TrimLeft(ip, "0")
	if ip == "" {
		ip = "0"
	}
	fp = strings.TrimRight(fp, "0")
	if ip == "0" && fp == "" {
		neg = false
	}
	return Decimal{neg: neg, ip: ip, fp: fp}
}

// String returns the canonical decimal string.
func (d Decimal) String() string {
	if d.ip == "" {
		return "0"
	}
	var b strings.Builder
	if d.neg {
		b.WriteByte('-')
	}
	b.WriteString(d.ip)
	if d.fp != "" {
		b.WriteByte('.')
		b.WriteString(d.fp)
	}
	return b.String()
}

// IsIntegral reports whether the value has no fractional part.
func (d Decimal) IsIntegral() bool {
	return d.fp == ""
}

// IsZero reports whether the value is zero.
func (d Decimal) IsZero() bool {
	return (d.ip == "" || d.ip == "0") && d.fp == ""
}

// Int64 returns the value as an int64. Fails on fractional values
// and on integer overflow.
func (d Decimal) Int64() (int64, error) {
	if !d.IsIntegral() {
		return 0, fmt.Errorf("decimal: %s is not integral", d.String())
	}
	return strconv.ParseInt(d.String(), 10, 64)
}

// Float64 returns the value as a float64.
func (d Decimal) Float64() (float64, error) {
	return strconv.ParseFloat(d.String(), 64)
}

// Native converts the value to its native numeric form: int64 for
// integral values that fit, float64 otherwise. This mirrors the query
// API contract where 10.0 is returned as 10 and 3.5 as 3.5.
func (d Decimal) Native() interface{} {
	if d.IsIntegral() {
		if n, err := d.Int64(); err == nil {
			return n
		}
	}
	f, _ := d.Float64()
	return f
}

// Cmp compares two decimals numerically: -1, 0, or +1.
func (d Decimal) Cmp(o Decimal) int {
	if d.neg != o.neg {
		if d.neg {
			return -1
		}
		return 1
	}

	cmp := cmpMagnitude(d, o)
	if d.neg {
		return -cmp
	}
	return cmp
}

// cmpMagnitude compares absolute values digit-wise, avoiding any float
// conversion.
func cmpMagnitude(a, b Decimal) int {
	if len(a.ip) != len(b.ip) {
		if len(a.ip) < len(b.ip) {
			return -1
		}
		return 1
	}
	if c := strings.Compare(a.ip, b.ip); c != 0 {
		return c
	}

	af, bf := a.fp, b.fp
	for len(af) < len(bf) {
		af += "0"
	}
	for len(bf) < len(af) {
		bf += "0"
	}
	return strings.Compare(af, bf)
}

// MarshalJSON emits the value as a plain JSON number.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseDecimal(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
