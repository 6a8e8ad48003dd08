package sighting

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btscan/btscan/agent/internal/address"
	"github.com/btscan/btscan/agent/internal/payload"
)

// Prefix starts every scan notification line.
const Prefix = "+SRBLESCAN: "

// fields is the number of comma-separated fields after Prefix.
const fields = 4

// Kind is the device address type.
type Kind uint8

const (
	// Public is an IEEE-assigned device address that never changes.
	Public Kind = 0
	// Private is a random address the device may rotate.
	Private Kind = 1
)

func (k Kind) String() string {
	switch k {
	case Public:
		return "public"
	case Private:
		return "private"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Sighting is one observation of a device.
type Sighting struct {
	Address uint64
	Kind    Kind
	RSSI    int32
	Payload payload.Payload
}

// Equal reports whether s and o carry the same address, address kind and
// payload. RSSI is not compared.
func (s Sighting) Equal(o Sighting) bool {
	return s.Address == o.Address &&
		s.Kind == o.Kind &&
		s.Payload.Equal(o.Payload)
}

func (s Sighting) String() string {
	return fmt.Sprintf("%s kind=%s rssi=%d data=%s",
		address.Format(s.Address), s.Kind, s.RSSI, s.Payload)
}

// Parse decodes one notification line. Surrounding whitespace (including the
// CR of a CRLF line ending) is ignored, as are spaces around each field.
func Parse(line string) (Sighting, error) {
	var s Sighting

	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, Prefix) {
		return s, newError(NotASighting, line, nil)
	}

	// The payload is the last field and never contains a comma, so a plain
	// split is exact; more than four fields means trailing garbage.
	parts := strings.Split(trimmed[len(Prefix):], ",")
	if len(parts) < fields {
		return s, newError(TruncatedFields, line,
			fmt.Errorf("got %d of %d fields", len(parts), fields))
	}
	if len(parts) > fields {
		return s, newError(BadPayload, line,
			fmt.Errorf("got %d fields, want %d", len(parts), fields))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	addr, err := address.Parse(parts[0])
	if err != nil {
		return s, newError(BadAddress, line, err)
	}
	if addr == 0 {
		return s, newError(BadAddress, line, fmt.Errorf("zero address"))
	}
	s.Address = addr

	kind, err := strconv.Atoi(parts[1])
	if err != nil {
		return s, newError(BadAddressKind, line, err)
	}
	if kind != int(Public) && kind != int(Private) {
		return s, newError(BadAddressKind, line, fmt.Errorf("kind %d", kind))
	}
	s.Kind = Kind(kind)

	rssi, err := strconv.ParseInt(parts[2], 10, 32)
	if err != nil {
		return s, newError(BadRSSI, line, err)
	}
	s.RSSI = int32(rssi)

	p, err := payload.Decode(parts[3])
	if err != nil {
		return s, newError(BadPayload, line, err)
	}
	s.Payload = p

	return s, nil
}
