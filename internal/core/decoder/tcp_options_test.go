package decoder

import (
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowmon/internal/core"
)

// synOptions is a typical Linux SYN options block.
var synOptions = []byte{
	0x02, 0x04, 0x05, 0xB4, // MSS 1460
	0x04, 0x02, // SACK permitted
	0x08, 0x0A, 0x00, 0x00, 0x00, 0x64, 0x00, 0x00, 0x00, 0x00, // Timestamp val=100 echo=0
	0x01,             // NOP
	0x03, 0x03, 0x07, // Window scale 7
}

func TestParseOptionsSYN(t *testing.T) {
	set := ParseOptions(synOptions)

	require.Len(t, set.Options(), 3)
	assert.Equal(t, layers.TCPOptionKind(layers.TCPOptionKindMSS), set.Options()[0].Kind)
	assert.Equal(t, layers.TCPOptionKind(layers.TCPOptionKindSACKPermitted), set.Options()[1].Kind)
	assert.Equal(t, layers.TCPOptionKind(layers.TCPOptionKindWindowScale), set.Options()[2].Kind)

	mss, ok := set.MSS()
	assert.True(t, ok)
	assert.Equal(t, uint16(1460), mss)

	ws, ok := set.WindowScale()
	assert.True(t, ok)
	assert.Equal(t, uint8(7), ws)

	assert.True(t, set.SackPermitted())
	assert.True(t, set.HasTimestamp)
	assert.Equal(t, Timestamp{Value: 100, Echo: 0}, set.Timestamp)
	assert.False(t, set.Truncated)
	assert.False(t, set.Malformed)
	assert.False(t, set.CapacityExceeded)
	assert.NoError(t, set.Err())
}

func TestParseOptionsSack(t *testing.T) {
	b := []byte{
		0x01, 0x01, // NOP NOP
		0x05, 0x12, // SACK, length 18: two blocks
		0x00, 0x00, 0x03, 0xE8, 0x00, 0x00, 0x07, 0xD0, // 1000-2000
		0x00, 0x00, 0x0B, 0xB8, 0x00, 0x00, 0x0F, 0xA0, // 3000-4000
	}

	set := ParseOptions(b)
	assert.Empty(t, set.Options())
	assert.Equal(t, []SackRange{{1000, 2000}, {3000, 4000}}, set.SackRanges())
	assert.False(t, set.Truncated)
}

// A window scale followed by a SACK whose declared length runs past the
// buffer yields the window scale only.
func TestParseOptionsTruncatedSack(t *testing.T) {
	b := []byte{
		0x03, 0x03, 0x02, // Window scale 2
		0x05, 0x0A, 0x00, 0x00, // SACK claiming 10 bytes, 4 present
	}

	set := ParseOptions(b)
	require.Len(t, set.Options(), 1)
	assert.Equal(t, Option{Kind: layers.TCPOptionKindWindowScale, WindowScale: 2}, set.Options()[0])
	assert.Empty(t, set.SackRanges())
	assert.True(t, set.Truncated)
}

func TestParseOptionsStops(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		options   int
		truncated bool
		malformed bool
	}{
		{"end of list", []byte{0x02, 0x04, 0x05, 0xB4, 0x00, 0x03, 0x03, 0x07}, 1, false, false},
		{"missing length byte", []byte{0x02, 0x04, 0x05, 0xB4, 0x03}, 1, true, false},
		{"length below two", []byte{0x02, 0x04, 0x05, 0xB4, 0x1E, 0x01, 0x00}, 1, true, false},
		{"length zero", []byte{0x1E, 0x00, 0x02, 0x04, 0x05, 0xB4}, 0, true, false},
		{"mss wrong length", []byte{0x03, 0x03, 0x07, 0x02, 0x03, 0x05, 0x02, 0x04, 0x05, 0xB4}, 1, false, true},
		{"sack partial block", []byte{0x05, 0x06, 0x00, 0x00, 0x00, 0x01}, 0, false, true},
		{"timestamp wrong length", []byte{0x08, 0x06, 0x00, 0x00, 0x00, 0x01}, 0, false, true},
		{"unknown kind skipped", []byte{0x1E, 0x04, 0xAA, 0xBB, 0x03, 0x03, 0x07}, 1, false, false},
		{"empty", nil, 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := ParseOptions(tt.data)
			assert.Len(t, set.Options(), tt.options)
			assert.Equal(t, tt.truncated, set.Truncated)
			assert.Equal(t, tt.malformed, set.Malformed)
		})
	}
}

func TestParseOptionsCapacity(t *testing.T) {
	mss := []byte{0x02, 0x04, 0x05, 0xB4}
	var b []byte
	for i := 0; i < MaxOptions+1; i++ {
		b = append(b, mss...)
	}

	set := ParseOptions(b)
	assert.Len(t, set.Options(), MaxOptions)
	assert.True(t, set.CapacityExceeded)
	assert.False(t, set.Truncated)
	assert.ErrorIs(t, set.Err(), core.ErrCapacityExceeded)

	// four blocks fill the array, the fifth overflows
	sack := []byte{0x05, 0x22}
	for i := 0; i < 4; i++ {
		sack = append(sack, 0, 0, 0, byte(i), 0, 0, 0, byte(i+1))
	}
	sack = append(sack, 0x05, 0x0A, 0, 0, 0, 9, 0, 0, 0, 10)

	set = ParseOptions(sack)
	assert.Len(t, set.SackRanges(), MaxSackRanges)
	assert.True(t, set.CapacityExceeded)
}

// Every prefix of a valid options block decodes to a prefix of the full
// result and never panics.
func TestParseOptionsPrefix(t *testing.T) {
	blocks := [][]byte{
		synOptions,
		{
			0x01, 0x01,
			0x08, 0x0A, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x02, 0x00,
			0x01, 0x01,
			0x05, 0x0A, 0x00, 0x00, 0x03, 0xE8, 0x00, 0x00, 0x07, 0xD0,
		},
	}

	for _, full := range blocks {
		want := ParseOptions(full)
		for n := 0; n <= len(full); n++ {
			got := ParseOptions(full[:n])
			require.LessOrEqual(t, len(got.Options()), len(want.Options()))
			assert.Equal(t, want.Options()[:len(got.Options())], got.Options(), "prefix %d", n)
			require.LessOrEqual(t, len(got.SackRanges()), len(want.SackRanges()))
			assert.Equal(t, want.SackRanges()[:len(got.SackRanges())], got.SackRanges(), "prefix %d", n)
			if got.HasTimestamp {
				assert.Equal(t, want.Timestamp, got.Timestamp)
			}
		}
	}
}

func TestParseOptionsIdempotent(t *testing.T) {
	inputs := [][]byte{
		synOptions,
		{0x03, 0x03, 0x02, 0x05, 0x0A, 0x00, 0x00},
		{0xFF, 0xFF, 0xFF},
	}
	for _, in := range inputs {
		assert.Equal(t, ParseOptions(in), ParseOptions(in))
	}
}

func BenchmarkParseOptions(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = ParseOptions(synOptions)
	}
}
