package telemetry

import (
	"fmt"
	"strconv"
)

// Kind identifies which field of a Value is populated.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return "invalid"
	}
}

// Value is a tagged union of the four value types a telemetry path may carry.
// The zero Value is invalid.
type Value struct {
	Kind  Kind    `cbor:"k" json:"kind"`
	Int   int64   `cbor:"i,omitempty" json:"int,omitempty"`
	Float float64 `cbor:"f,omitempty" json:"float,omitempty"`
	Bool  bool    `cbor:"b,omitempty" json:"bool,omitempty"`
	Str   string  `cbor:"s,omitempty" json:"str,omitempty"`
}

// Int returns an integer Value.
func Int(v int64) Value { return Value{Kind: KindInt, Int: v} }

// Float returns a floating-point Value.
func Float(v float64) Value { return Value{Kind: KindFloat, Float: v} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// String returns a string Value.
func String(v string) Value { return Value{Kind: KindString, Str: v} }

// Valid reports whether v carries one of the known kinds.
func (v Value) Valid() bool {
	return v.Kind >= KindInt && v.Kind <= KindString
}

// Number returns v as a float64 for numeric and boolean values.
// ok is false for strings and invalid values.
func (v Value) Number() (n float64, ok bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Interface returns the populated field as a plain Go value, for JSON output.
func (v Value) Interface() any {
	switch v.Kind {
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindBool:
		return v.Bool
	case KindString:
		return v.Str
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindString:
		return strconv.Quote(v.Str)
	default:
		return fmt.Sprintf("invalid(%d)", v.Kind)
	}
}
