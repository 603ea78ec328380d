package source

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/tevino/abool"

	"firestige.xyz/flowmon/internal/core"
	"firestige.xyz/flowmon/internal/log"
	"firestige.xyz/flowmon/internal/metrics"
)

// PacketReader is a capture handle: a pcap file, an AF_PACKET ring, ...
// ReadPacketData must return a buffer the caller may keep. It returns
// io.EOF once the reader is exhausted or closed.
type PacketReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
	Close() error
}

// Stats are cumulative source counters.
type Stats struct {
	Frames     uint64 // frames read
	Datagrams  uint64 // IP datagrams emitted
	NonIP      uint64 // frames without an IP payload
	ReadErrors uint64
}

// Source turns the frames of a PacketReader into raw IP datagrams
// timestamped in Unix nanoseconds.
type Source struct {
	name   string
	reader PacketReader
	link   *LinkDecoder
	stats  Stats
	closed *abool.AtomicBool
	log    log.Logger
}

// New wraps reader. name labels logs and metrics.
func New(name string, reader PacketReader, tunnels Tunnels) *Source {
	return &Source{
		name:   name,
		reader: reader,
		link:   NewLinkDecoder(reader.LinkType(), tunnels),
		closed: abool.New(),
		log:    log.Named("source").WithField("source", name),
	}
}

// Name returns the source label.
func (s *Source) Name() string { return s.name }

// Next returns the next IP datagram, skipping frames without one. It
// returns io.EOF at the end of the capture and core.ErrSourceClosed once
// Close has been called.
func (s *Source) Next() (core.RawPacket, error) {
	for {
		if s.closed.IsSet() {
			return core.RawPacket{}, core.ErrSourceClosed
		}
		data, ci, err := s.reader.ReadPacketData()
		if err != nil {
			if s.closed.IsSet() {
				return core.RawPacket{}, core.ErrSourceClosed
			}
			if !errors.Is(err, io.EOF) {
				s.stats.ReadErrors++
				metrics.SourceReadErrorsTotal.WithLabelValues(s.name).Inc()
			}
			return core.RawPacket{}, err
		}
		s.stats.Frames++

		datagram, ok := s.link.Decode(data)
		if !ok {
			s.stats.NonIP++
			metrics.SourceLinkDropsTotal.WithLabelValues(s.name).Inc()
			continue
		}
		s.stats.Datagrams++
		return core.RawPacket{Data: datagram, Timestamp: uint64(ci.Timestamp.UnixNano())}, nil
	}
}

// Run feeds every datagram to emit until the capture ends, ctx is done,
// or emit fails. Neither the end of the capture nor Close is an error.
func (s *Source) Run(ctx context.Context, emit func(core.RawPacket) error) error {
	s.log.Info("source started")
	defer func() {
		s.log.WithFields(map[string]interface{}{
			"frames":      s.stats.Frames,
			"datagrams":   s.stats.Datagrams,
			"non_ip":      s.stats.NonIP,
			"read_errors": s.stats.ReadErrors,
		}).Info("source finished")
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := s.Next()
		if errors.Is(err, io.EOF) || errors.Is(err, core.ErrSourceClosed) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read from %s: %w", s.name, err)
		}
		if err := emit(raw); err != nil {
			return err
		}
	}
}

// Stats returns the counters. Not safe to call concurrently with Next.
func (s *Source) Stats() Stats { return s.stats }

// Close closes the underlying reader. It unblocks a pending Next.
func (s *Source) Close() error {
	if s.closed.IsSet() {
		return nil
	}
	s.closed.Set()
	return s.reader.Close()
}
