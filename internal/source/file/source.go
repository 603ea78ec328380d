// Package file reads offline captures in pcap or pcapng format.
package file

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const Name = "file"

// pcapng section header block type, stored identically in both byte orders
var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Reader is a pcap or pcapng file. Close may be called while another
// goroutine reads.
type Reader struct {
	path string

	mu sync.Mutex
	f  *os.File
	r  packetReader
}

// Open opens path and detects its format from the leading magic.
func Open(path string) (*Reader, error) {
	if path == "" {
		return nil, fmt.Errorf("file path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read capture file %s: %w", path, err)
	}

	var r packetReader
	if bytes.Equal(magic, ngMagic) {
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to parse capture file %s: %w", path, err)
	}

	return &Reader{path: path, f: f, r: r}, nil
}

// ReadPacketData returns the next frame in a freshly allocated buffer.
func (r *Reader) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.r == nil {
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
	data, ci, err := r.r.ReadPacketData()
	if err != nil {
		if err == io.EOF {
			return nil, gopacket.CaptureInfo{}, io.EOF
		}
		return nil, gopacket.CaptureInfo{}, fmt.Errorf("failed to read packet: %w", err)
	}
	return data, ci, nil
}

// LinkType returns the link type of the capture (of its first interface
// for pcapng).
func (r *Reader) LinkType() layers.LinkType {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.r == nil {
		return layers.LinkTypeEthernet // default
	}
	return r.r.LinkType()
}

// Path returns the file path.
func (r *Reader) Path() string { return r.path }

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	r.r = nil
	return err
}
