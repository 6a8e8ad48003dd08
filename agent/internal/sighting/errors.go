package sighting

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a parse failure.
type ErrorKind int

const (
	NotASighting ErrorKind = iota + 1
	TruncatedFields
	BadAddress
	BadAddressKind
	BadRSSI
	BadPayload
)

// Sentinel errors matched by errors.Is against a *ParseError of the same kind.
var (
	ErrNotASighting    = errors.New("not a scan notification")
	ErrTruncatedFields = errors.New("missing notification fields")
	ErrBadAddress      = errors.New("bad device address")
	ErrBadAddressKind  = errors.New("bad address kind")
	ErrBadRSSI         = errors.New("bad rssi")
	ErrBadPayload      = errors.New("bad advertisement payload")
)

var sentinels = map[ErrorKind]error{
	NotASighting:    ErrNotASighting,
	TruncatedFields: ErrTruncatedFields,
	BadAddress:      ErrBadAddress,
	BadAddressKind:  ErrBadAddressKind,
	BadRSSI:         ErrBadRSSI,
	BadPayload:      ErrBadPayload,
}

// String returns the snake_case name used as a metrics label.
func (k ErrorKind) String() string {
	switch k {
	case NotASighting:
		return "not_a_sighting"
	case TruncatedFields:
		return "truncated_fields"
	case BadAddress:
		return "bad_address"
	case BadAddressKind:
		return "bad_address_kind"
	case BadRSSI:
		return "bad_rssi"
	case BadPayload:
		return "bad_payload"
	default:
		return "unknown"
	}
}

// ParseError describes why a line could not be parsed.
type ParseError struct {
	Kind ErrorKind
	Line string
	Err  error // underlying cause, may be nil
}

func (e *ParseError) Error() string {
	msg := "sighting: " + e.Kind.String()
	if s, ok := sentinels[e.Kind]; ok {
		msg = "sighting: " + s.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s (line %q)", msg, e.Line)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrBadPayload) true for a BadPayload ParseError.
func (e *ParseError) Is(target error) bool {
	return sentinels[e.Kind] == target
}

func newError(kind ErrorKind, line string, err error) *ParseError {
	return &ParseError{Kind: kind, Line: line, Err: err}
}

// KindOf returns the ErrorKind of err, or 0 if err is not a *ParseError.
func KindOf(err error) ErrorKind {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}
