package file

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var frames = [][]byte{
	{0x01, 0x02, 0x03, 0x04},
	{0x05, 0x06, 0x07, 0x08, 0x09},
}

func capture(i int) gopacket.CaptureInfo {
	n := len(frames[i])
	return gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, int64(i)*1000), CaptureLength: n, Length: n}
}

func writePcap(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "test.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeRaw))
	for i, frame := range frames {
		require.NoError(t, w.WritePacket(capture(i), frame))
	}
	return path
}

func writePcapng(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "test.pcapng")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	require.NoError(t, err)
	for i, frame := range frames {
		require.NoError(t, w.WritePacket(capture(i), frame))
	}
	require.NoError(t, w.Flush())
	return path
}

func readAll(t *testing.T, r *Reader) [][]byte {
	var out [][]byte
	for {
		data, ci, err := r.ReadPacketData()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		assert.Equal(t, capture(len(out)).Timestamp.UnixNano(), ci.Timestamp.UnixNano())
		out = append(out, data)
	}
}

func TestOpenPcap(t *testing.T) {
	r, err := Open(writePcap(t))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, layers.LinkTypeRaw, r.LinkType())
	assert.Equal(t, frames, readAll(t, r))
}

func TestOpenPcapng(t *testing.T) {
	r, err := Open(writePcapng(t))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())
	assert.Equal(t, frames, readAll(t, r))
}

func TestOpenErrors(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "missing.pcap"))
	assert.Error(t, err)

	junk := filepath.Join(t.TempDir(), "junk.pcap")
	require.NoError(t, os.WriteFile(junk, []byte("not a capture file"), 0644))
	_, err = Open(junk)
	assert.Error(t, err)
}

func TestReadAfterClose(t *testing.T) {
	r, err := Open(writePcap(t))
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, _, err = r.ReadPacketData()
	assert.Equal(t, io.EOF, err)
}
