package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want ByteSize
	}{
		{"0", 0},
		{"4096", 4096},
		{"10KB", 10 * KB},
		{"1k", KB},
		{"512Mi", 512 * MiB},
		{"1.5Gi", GiB + 512*MiB},
		{" 2 TiB ", 2 * TiB},
		{"3gb", 3 * GB},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", "abc", "10XB", "-1", "1.2.3Mi", "99999999999999999999"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
	_, err := Parse("20000000Ti")
	assert.Error(t, err, "overflow")
}

func TestExactRoundTrip(t *testing.T) {
	for _, b := range []ByteSize{0, 1, 1000, KiB, 3 * MiB, 5*GiB + KiB, 7 * TiB} {
		text, err := b.MarshalText()
		require.NoError(t, err)
		var back ByteSize
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, b, back, string(text))
	}
	assert.Equal(t, "3Mi", (3 * MiB).Exact())
}

func TestString(t *testing.T) {
	assert.Equal(t, "512B", ByteSize(512).String())
	assert.Equal(t, "1.50KiB", ByteSize(1536).String())
	assert.Equal(t, "2.00GiB", (2 * GiB).String())
}
