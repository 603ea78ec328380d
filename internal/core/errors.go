// Package core defines sentinel errors and drop reasons.
package core

import "errors"

// Sentinel error kinds. Every DropReason matches exactly one of the first two
// with errors.Is.
var (
	// Packet classification errors
	ErrMalformedPacket     = errors.New("flowmon: malformed packet")
	ErrUnsupportedProtocol = errors.New("flowmon: unsupported protocol")

	// Session tracking
	ErrProtocolAnomaly  = errors.New("flowmon: protocol anomaly")
	ErrCapacityExceeded = errors.New("flowmon: capacity exceeded")
	ErrInfoAlreadySet   = errors.New("flowmon: session info already set")

	// Runtime errors
	ErrConfigInvalid  = errors.New("flowmon: invalid configuration")
	ErrSourceClosed   = errors.New("flowmon: source closed")
	ErrMonitorStopped = errors.New("flowmon: monitor stopped")
)

// DropReason explains why a packet was discarded before touching any session.
// It implements error so decoders can return it directly.
type DropReason uint8

const (
	DropNone DropReason = iota

	// Malformed
	DropTooShort
	DropBadHeaderLength
	DropBadTotalLength
	DropTruncatedTCP
	DropBadTCPHeaderLength
	DropTruncatedUDP
	DropBadUDPLength
	DropBadFragment

	// Unsupported
	DropIPv6
	DropUnknownVersion
	DropUnsupportedTransport
	DropFragment
	DropFragmentExhausted
	DropFragmentTimeout

	dropReasonCount
)

// DropReasonCount is the number of distinct drop reasons, DropNone included.
const DropReasonCount = int(dropReasonCount)

var dropReasonNames = [dropReasonCount]string{
	DropNone:                 "none",
	DropTooShort:             "too_short",
	DropBadHeaderLength:      "bad_header_length",
	DropBadTotalLength:       "bad_total_length",
	DropTruncatedTCP:         "truncated_tcp",
	DropBadTCPHeaderLength:   "bad_tcp_header_length",
	DropTruncatedUDP:         "truncated_udp",
	DropBadUDPLength:         "bad_udp_length",
	DropBadFragment:          "bad_fragment",
	DropIPv6:                 "ipv6",
	DropUnknownVersion:       "unknown_ip_version",
	DropUnsupportedTransport: "unsupported_transport",
	DropFragment:             "fragment",
	DropFragmentExhausted:    "fragment_exhausted",
	DropFragmentTimeout:      "fragment_timeout",
}

// String returns the metric-friendly name of the reason.
func (r DropReason) String() string {
	if r < dropReasonCount {
		return dropReasonNames[r]
	}
	return "unknown"
}

func (r DropReason) Error() string {
	return "flowmon: packet dropped: " + r.String()
}

// Kind returns ErrMalformedPacket or ErrUnsupportedProtocol.
func (r DropReason) Kind() error {
	switch {
	case r == DropNone:
		return nil
	case r < DropIPv6:
		return ErrMalformedPacket
	default:
		return ErrUnsupportedProtocol
	}
}

// Is lets errors.Is match a DropReason against its kind.
func (r DropReason) Is(target error) bool {
	return target != nil && target == r.Kind()
}

// DropReasonOf extracts the drop reason from err, or DropNone.
func DropReasonOf(err error) DropReason {
	var r DropReason
	if errors.As(err, &r) {
		return r
	}
	return DropNone
}
