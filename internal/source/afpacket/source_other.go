//go:build !linux || !cgo

package afpacket

import (
	"errors"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const Name = "afpacket"

var errUnsupported = errors.New("afpacket: live capture requires linux and cgo")

// Reader is unavailable on this platform.
type Reader struct{}

func Open(Config) (*Reader, error) { return nil, errUnsupported }

func (*Reader) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return nil, gopacket.CaptureInfo{}, errUnsupported
}

func (*Reader) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

func (*Reader) Close() error { return nil }
