// Package types provides core data types for the CityFlow pipeline.
package types

import (
	"strconv"
	"strings"
)

// ValueKind identifies the variant held by a Value.
type ValueKind int

const (
	// KindNull marks an absent or unparseable value.
	KindNull ValueKind = iota

	// KindString holds an uninterpreted string.
	KindString

	// KindNumber holds a numeric value.
	KindNumber
)

// Value is a tagged scalar used for schema-less raw fields.
// Raw feeds drift; every field starts life as a Value and is only
// projected into a typed record by an explicit validation step.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
}

// Null returns the null Value.
func Null() Value {
	return Value{Kind: KindNull}
}

// Str returns a string Value.
func Str(s string) Value {
	return Value{Kind: KindString, Str: s}
}

// Num returns a numeric Value.
func Num(f float64) Value {
	return Value{Kind: KindNumber, Num: f}
}

// IsNull reports whether the value is null.
func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

// AsNumber coerces the value to a number.
// Strings are parsed; unparseable strings and nulls report false.
func (v Value) AsNumber() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// AsString returns the value as a string.
// Numbers are formatted; nulls report false.
func (v Value) AsString() (string, bool) {
	switch v.Kind {
	case KindString:
		return v.Str, true
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64), true
	default:
		return "", false
	}
}

// Native returns the value as a plain Go scalar (string, float64, or nil).
func (v Value) Native() interface{} {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	default:
		return nil
	}
}

// FromNative builds a Value from a decoded JSON scalar.
func FromNative(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case string:
		return Str(t)
	case float64:
		return Num(t)
	case bool:
		if t {
			return Num(1)
		}
		return Num(0)
	default:
		return Null()
	}
}
