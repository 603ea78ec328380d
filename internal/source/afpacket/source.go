//go:build linux && cgo

package afpacket

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/tevino/abool"
)

const Name = "afpacket"

// Reader is an open AF_PACKET ring. It must be read from one goroutine;
// Close may be called from any.
type Reader struct {
	handle  *afpacket.TPacket
	closed  *abool.AtomicBool
	release sync.Once
}

// Open creates the ring on cfg.Interface and attaches the filter.
func Open(cfg Config) (*Reader, error) {
	opts := cfg.Options
	def := DefaultOptions()
	if opts.BufferSizeMB <= 0 {
		opts.BufferSizeMB = def.BufferSizeMB
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = def.PollTimeout
	}

	frameSize, blockSize, numBlocks, err := recomputeSize(opts.BufferSizeMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Interface),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(opts.PollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Interface, err)
	}

	if opts.FanoutID > 0 {
		if err := tp.SetFanout(afpacket.FanoutHashWithDefrag, opts.FanoutID); err != nil {
			tp.Close()
			return nil, fmt.Errorf("failed to join fanout group %d: %w", opts.FanoutID, err)
		}
	}

	if cfg.BPFFilter != "" {
		prog, err := compileFilter(cfg.BPFFilter, frameSize)
		if err != nil {
			tp.Close()
			return nil, err
		}
		if err := tp.SetBPF(prog); err != nil {
			tp.Close()
			return nil, fmt.Errorf("failed to attach filter: %w", err)
		}
	}

	return &Reader{handle: tp, closed: abool.New()}, nil
}

// ReadPacketData blocks until a frame arrives or the reader is closed.
// The first read after Close frees the ring and returns io.EOF.
func (r *Reader) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	for {
		if r.closed.IsSet() {
			r.release.Do(r.handle.Close)
			return nil, gopacket.CaptureInfo{}, io.EOF
		}
		data, ci, err := r.handle.ReadPacketData()
		if errors.Is(err, afpacket.ErrTimeout) {
			continue
		}
		return data, ci, err
	}
}

// LinkType is always Ethernet for a raw packet socket.
func (r *Reader) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

// Close stops a pending read within one poll timeout.
func (r *Reader) Close() error {
	r.closed.Set()
	return nil
}
