package address

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want uint64
	}{
		{"quoted", `"29:db:3c:cd:01:5a"`, 0x29db3ccd015a},
		{"bare", "29:db:3c:cd:01:5a", 0x29db3ccd015a},
		{"uppercase", "29:DB:3C:CD:01:5A", 0x29db3ccd015a},
		{"leading quote only", `"00:00:00:00:00:01`, 0x1},
		{"broadcast", "ff:ff:ff:ff:ff:ff", Max},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{
		"",
		`""`,
		"29:db:3c:cd:01",
		`"29:db:3c:cd:01"`,
		"29:db:3c:cd:01:zz",
		"29-db-3c-cd-01-5a",
		"29:db:3c:cd:01:5a:77",
		"2:9db:3c:cd:01:5a",
		"+9:db:3c:cd:01:5a",
	} {
		_, err := Parse(in)
		assert.True(t, errors.Is(err, ErrInvalid), "Parse(%q) err = %v, want ErrInvalid", in, err)
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cases := []uint64{0, 1, 0xff, 0x29db3ccd015a, Max}
	for i := 0; i < 500; i++ {
		cases = append(cases, rng.Uint64()&Max)
	}
	for _, x := range cases {
		got, err := Parse(Format(x))
		require.NoError(t, err, "Format(%#x) = %q", x, Format(x))
		assert.Equal(t, x, got)

		back, err := ParseHex(Hex(x))
		require.NoError(t, err)
		assert.Equal(t, x, back)
	}
}

func TestHex(t *testing.T) {
	assert.Equal(t, "000000000001", Hex(1))
	assert.Equal(t, "29db3ccd015a", Hex(0x29db3ccd015a))
	assert.Equal(t, "29:db:3c:cd:01:5a", Format(0x29db3ccd015a))
}
