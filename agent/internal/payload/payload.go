// Package payload decodes the escaped-hex advertisement data of a scan
// notification (`"\1E\FF\06"`) into a fixed-capacity byte container.
//
// A BLE advertisement is at most 31 bytes, so Payload stores its bytes inline
// in an array with a length; it is a plain value type that can be copied and
// compared without allocation.
package payload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// MaxLen is the capacity of a Payload in bytes.
const MaxLen = 31

// escape marks the start of each 3-character byte token.
const escape = '\\'

var (
	// ErrTooLong is returned when the text encodes more than MaxLen bytes.
	ErrTooLong = errors.New("payload exceeds 31 bytes")

	// ErrMalformed is returned when a token is not an escape marker followed
	// by two hex digits.
	ErrMalformed = errors.New("malformed escaped payload")
)

// Payload is a bounded advertisement payload.
type Payload struct {
	buf [MaxLen]byte
	n   uint8
}

// New copies b into a Payload. It fails with ErrTooLong if len(b) > MaxLen.
func New(b []byte) (Payload, error) {
	var p Payload
	if len(b) > MaxLen {
		return p, fmt.Errorf("%w: %d bytes", ErrTooLong, len(b))
	}
	p.n = uint8(copy(p.buf[:], b))
	return p, nil
}

// MustNew is New for literals in tests and tables; it panics on overflow.
func MustNew(b ...byte) Payload {
	p, err := New(b)
	if err != nil {
		panic(err)
	}
	return p
}

// Len returns the number of payload bytes.
func (p Payload) Len() int { return int(p.n) }

// Bytes returns a copy of the payload bytes.
func (p Payload) Bytes() []byte {
	out := make([]byte, p.n)
	copy(out, p.buf[:p.n])
	return out
}

// Equal reports whether p and o have the same length and the same bytes.
func (p Payload) Equal(o Payload) bool {
	if p.n != o.n {
		return false
	}
	for i := 0; i < int(p.n); i++ {
		if p.buf[i] != o.buf[i] {
			return false
		}
	}
	return true
}

// Base64 returns the standard base64 form used when reporting the payload.
func (p Payload) Base64() string {
	return base64.StdEncoding.EncodeToString(p.buf[:p.n])
}

// String renders the payload in its escaped wire form.
func (p Payload) String() string { return Encode(p) }

// Decode parses an optionally quoted escaped-hex string such as
// `"\1E\FF\06"` into a Payload.
//
// The byte count is the number of escape markers. Each marker must be followed
// by exactly two hex digits; anything else between tokens is malformed.
func Decode(text string) (Payload, error) {
	var p Payload

	s := strings.TrimPrefix(text, `"`)
	s = strings.TrimSuffix(s, `"`)

	n := strings.Count(s, string(escape))
	if n > MaxLen {
		return p, fmt.Errorf("%w: %d bytes in %q", ErrTooLong, n, text)
	}
	if len(s) != n*3 {
		return p, fmt.Errorf("%w: %q", ErrMalformed, text)
	}

	for i := 0; i < n; i++ {
		tok := s[i*3 : i*3+3]
		if tok[0] != escape {
			return p, fmt.Errorf("%w: token %d %q", ErrMalformed, i, tok)
		}
		hi, ok1 := unhex(tok[1])
		lo, ok2 := unhex(tok[2])
		if !ok1 || !ok2 {
			return p, fmt.Errorf("%w: token %d %q", ErrMalformed, i, tok)
		}
		p.buf[i] = hi<<4 | lo
	}
	p.n = uint8(n)
	return p, nil
}

// Encode renders p as uppercase `\XX` tokens without quotes.
func Encode(p Payload) string {
	const digits = "0123456789ABCDEF"
	out := make([]byte, 0, int(p.n)*3)
	for _, b := range p.buf[:p.n] {
		out = append(out, escape, digits[b>>4], digits[b&0x0f])
	}
	return string(out)
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
