// Package decoder classifies raw IPv4 datagrams and parses TCP segments.
package decoder

import (
	"errors"

	"firestige.xyz/flowmon/internal/core"
)

// ErrFragmentHeld is returned by Decode when a fragment was accepted by the
// FragmentHandler but its datagram is not complete yet. It is not a drop.
var ErrFragmentHeld = errors.New("flowmon: fragment held for reassembly")

// Config configures a Decoder.
type Config struct {
	// FragmentHandler receives IPv4 fragments. Defaults to DropFragments.
	FragmentHandler FragmentHandler
	// TrackOtherProtocols accepts transports other than TCP and UDP
	// instead of dropping them with core.DropUnsupportedTransport.
	TrackOtherProtocols bool
}

// Decoder turns raw IPv4 datagrams into classified packets.
// Decode itself is stateless; the fragment handler may not be.
type Decoder struct {
	fragments  FragmentHandler
	trackOther bool
}

// NewDecoder creates a Decoder.
func NewDecoder(cfg Config) *Decoder {
	h := cfg.FragmentHandler
	if h == nil {
		h = DropFragments{}
	}
	return &Decoder{
		fragments:  h,
		trackOther: cfg.TrackOtherProtocols,
	}
}

// Decode classifies one raw packet. On failure the returned error is a
// core.DropReason (or ErrFragmentHeld, or a handler error) and the Packet
// must be ignored.
func (d *Decoder) Decode(raw core.RawPacket) (core.Packet, error) {
	return d.decode(raw.Data, raw.Timestamp, true)
}

func (d *Decoder) decode(data []byte, ts uint64, reenter bool) (core.Packet, error) {
	nm, ipPayload, err := decodeIP(data)
	if err != nil {
		return core.Packet{}, err
	}

	if nm.Kind == core.NetworkIPv4Fragment {
		if !reenter {
			// a reassembled datagram must not be a fragment itself
			return core.Packet{}, core.DropBadFragment
		}
		datagram, complete, err := d.fragments.HandleFragment(core.Fragment{
			Timestamp:     ts,
			ID:            nm.ID,
			SrcIP:         nm.SrcIP,
			DstIP:         nm.DstIP,
			Protocol:      nm.Protocol,
			Offset:        int(nm.FragOffset),
			MoreFragments: nm.Flags.MoreFragments(),
			Header:        data[:nm.HeaderLen],
			Payload:       ipPayload,
		})
		if err != nil {
			return core.Packet{}, err
		}
		if !complete {
			return core.Packet{}, ErrFragmentHeld
		}
		return d.decode(datagram, ts, false)
	}

	tm, segment, err := decodeTransport(ipPayload, nm.Protocol, d.trackOther)
	if err != nil {
		return core.Packet{}, err
	}

	return core.Packet{
		Timestamp: ts,
		Network:   nm,
		Transport: tm,
		Payload:   segment,
	}, nil
}
