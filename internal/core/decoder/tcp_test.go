package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowmon/internal/core"
)

func TestDecodeSegment(t *testing.T) {
	data := []byte{
		0xC3, 0x50, // Src Port: 50000
		0x00, 0x50, // Dst Port: 80
		0x00, 0x00, 0x00, 0x64, // Seq: 100
		0x00, 0x00, 0x01, 0xF5, // Ack: 501
		0x70,       // Data Offset: 7 (28 bytes)
		0x38,       // Flags: URG + ACK + PSH
		0xFF, 0xFF, // Window: 65535
		0x00, 0x00, // Checksum
		0x00, 0x02, // Urgent Pointer: 2
		0x02, 0x04, 0x05, 0xB4, // MSS 1460
		0x01, 0x03, 0x03, 0x07, // NOP, Window scale 7
		'G', 'E', 'T', ' ', // Payload
	}

	seg, err := DecodeSegment(data)
	require.NoError(t, err)

	assert.Equal(t, uint16(50000), seg.SrcPort)
	assert.Equal(t, uint16(80), seg.DstPort)
	assert.Equal(t, uint32(100), seg.Seq)
	assert.Equal(t, uint32(501), seg.Ack)
	assert.Equal(t, uint16(65535), seg.Window)
	assert.Equal(t, 28, seg.HeaderLen)
	assert.Equal(t, 4, seg.PayloadLen)
	assert.Equal(t, 4, seg.SeqLen())

	urg, ok := seg.UrgentPointer()
	assert.True(t, ok)
	assert.Equal(t, uint16(2), urg)

	mss, ok := seg.Options.MSS()
	assert.True(t, ok)
	assert.Equal(t, uint16(1460), mss)
	ws, ok := seg.Options.WindowScale()
	assert.True(t, ok)
	assert.Equal(t, uint8(7), ws)
}

func TestSegmentUrgentPointerWithoutURG(t *testing.T) {
	seg := Segment{Flags: core.FlagACK, Urgent: 9}
	_, ok := seg.UrgentPointer()
	assert.False(t, ok)
}

func TestSegmentSeqLen(t *testing.T) {
	assert.Equal(t, 1, (&Segment{Flags: core.FlagSYN}).SeqLen())
	assert.Equal(t, 11, (&Segment{Flags: core.FlagFIN | core.FlagACK, PayloadLen: 10}).SeqLen())
	assert.Equal(t, 0, (&Segment{Flags: core.FlagACK}).SeqLen())
}

func TestDecodeSegmentErrors(t *testing.T) {
	_, err := DecodeSegment(make([]byte, 10))
	assert.Equal(t, core.DropTruncatedTCP, err)

	bad := make([]byte, 20)
	bad[12] = 0x80 // 32-byte header in a 20-byte buffer
	seg := Segment{Seq: 7}
	err = DecodeSegmentInto(bad, &seg)
	assert.Equal(t, core.DropBadTCPHeaderLength, err)
	assert.Equal(t, uint32(7), seg.Seq, "segment must be untouched on error")
}
