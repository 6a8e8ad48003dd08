// Package address converts the textual 6-octet Bluetooth device address
// reported by the radio into the 48-bit integer used as the station key, and back.
package address

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Octets is the number of octets in a device address.
	Octets = 6

	// textLen is the length of "aa:bb:cc:dd:ee:ff".
	textLen = Octets*3 - 1

	// Max is the largest valid 48-bit address.
	Max uint64 = 1<<48 - 1
)

// ErrInvalid is returned (wrapped) for any address text that cannot be parsed.
var ErrInvalid = errors.New("invalid device address")

// Parse converts text such as `"29:db:3c:cd:01:5a"` into 0x29db3ccd015a.
// A single pair of surrounding double quotes is tolerated but not required.
// The rightmost octet in the text becomes the least-significant byte.
func Parse(text string) (uint64, error) {
	s := text
	quoted := strings.HasPrefix(s, `"`)
	if quoted {
		s = s[1:]
	}
	if len(s) < textLen {
		return 0, fmt.Errorf("%w: %q is too short", ErrInvalid, text)
	}
	s = strings.TrimSuffix(s, `"`)
	if len(s) != textLen {
		return 0, fmt.Errorf("%w: %q has trailing characters", ErrInvalid, text)
	}

	parts := strings.Split(s, ":")
	if len(parts) != Octets {
		return 0, fmt.Errorf("%w: %q does not have %d octets", ErrInvalid, text, Octets)
	}

	var addr uint64
	for _, p := range parts {
		if len(p) != 2 {
			return 0, fmt.Errorf("%w: octet %q in %q", ErrInvalid, p, text)
		}
		oct, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return 0, fmt.Errorf("%w: octet %q in %q", ErrInvalid, p, text)
		}
		addr = addr<<8 | oct
	}
	return addr, nil
}

// Format renders addr as lowercase "aa:bb:cc:dd:ee:ff". Bits above 48 are ignored.
func Format(addr uint64) string {
	var b strings.Builder
	b.Grow(textLen)
	for i := Octets - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "%02x", byte(addr>>(8*i)))
		if i > 0 {
			b.WriteByte(':')
		}
	}
	return b.String()
}

// Hex renders addr as 12 lowercase hex digits, the form used in telemetry paths.
func Hex(addr uint64) string {
	return fmt.Sprintf("%012x", addr&Max)
}

// ParseHex is the inverse of Hex.
func ParseHex(s string) (uint64, error) {
	if len(s) != Octets*2 {
		return 0, fmt.Errorf("%w: %q is not %d hex digits", ErrInvalid, s, Octets*2)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return v, nil
}
