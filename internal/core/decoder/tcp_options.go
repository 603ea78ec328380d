package decoder

import (
	"encoding/binary"

	"github.com/google/gopacket/layers"

	"firestige.xyz/flowmon/internal/core"
)

// Output capacity of ParseOptions.
const (
	MaxOptions    = 4
	MaxSackRanges = 4
)

const (
	mssOptionLen           = 4
	windowScaleOptionLen   = 3
	sackPermittedOptionLen = 2
	timestampOptionLen     = 10
	sackBlockLen           = 8
)

// Option is one decoded fixed-size TCP option. Only the field matching
// Kind is meaningful.
type Option struct {
	Kind        layers.TCPOptionKind
	MSS         uint16
	WindowScale uint8
}

// SackRange is one SACK block: [Start, End) in sequence space.
type SackRange struct {
	Start uint32
	End   uint32
}

// Timestamp is the RFC 7323 timestamp option.
type Timestamp struct {
	Value uint32
	Echo  uint32
}

// OptionSet is the result of one ParseOptions call. It lives in fixed
// arrays; nothing escapes to the heap.
type OptionSet struct {
	options    [MaxOptions]Option
	numOptions int

	sacks    [MaxSackRanges]SackRange
	numSacks int

	Timestamp    Timestamp
	HasTimestamp bool

	// Truncated is set when an option ran past the end of the buffer or
	// carried a length below 2.
	Truncated bool
	// Malformed is set when a known option had the wrong length.
	Malformed bool
	// CapacityExceeded is set when decoding stopped because an output
	// array was full.
	CapacityExceeded bool
}

// Options returns the decoded MSS, window scale and SACK-permitted options
// in wire order.
func (s *OptionSet) Options() []Option {
	return s.options[:s.numOptions]
}

// SackRanges returns the decoded SACK blocks in wire order.
func (s *OptionSet) SackRanges() []SackRange {
	return s.sacks[:s.numSacks]
}

// MSS returns the first MSS option, if any.
func (s *OptionSet) MSS() (uint16, bool) {
	for _, o := range s.Options() {
		if o.Kind == layers.TCPOptionKindMSS {
			return o.MSS, true
		}
	}
	return 0, false
}

// WindowScale returns the first window scale option, if any.
func (s *OptionSet) WindowScale() (uint8, bool) {
	for _, o := range s.Options() {
		if o.Kind == layers.TCPOptionKindWindowScale {
			return o.WindowScale, true
		}
	}
	return 0, false
}

// Err returns core.ErrCapacityExceeded when the scan stopped on a full
// output array. A truncated block is not an error.
func (s *OptionSet) Err() error {
	if s.CapacityExceeded {
		return core.ErrCapacityExceeded
	}
	return nil
}

// SackPermitted reports whether a SACK-permitted option was seen.
func (s *OptionSet) SackPermitted() bool {
	for _, o := range s.Options() {
		if o.Kind == layers.TCPOptionKindSACKPermitted {
			return true
		}
	}
	return false
}

func (s *OptionSet) addOption(o Option) bool {
	if s.numOptions == MaxOptions {
		s.CapacityExceeded = true
		return false
	}
	s.options[s.numOptions] = o
	s.numOptions++
	return true
}

func (s *OptionSet) addSack(r SackRange) bool {
	if s.numSacks == MaxSackRanges {
		s.CapacityExceeded = true
		return false
	}
	s.sacks[s.numSacks] = r
	s.numSacks++
	return true
}

// ParseOptions decodes a TCP options block (the bytes between the fixed
// 20-byte header and the data offset). Every length is checked against the
// buffer before a field is read; on the first bad option the scan stops and
// whatever was decoded so far is returned.
func ParseOptions(b []byte) OptionSet {
	var set OptionSet

	for i := 0; i < len(b); {
		kind := layers.TCPOptionKind(b[i])
		switch kind {
		case layers.TCPOptionKindEndList:
			return set
		case layers.TCPOptionKindNop:
			i++
			continue
		}

		if i+1 >= len(b) {
			set.Truncated = true
			return set
		}
		length := int(b[i+1])
		if length < 2 || i+length > len(b) {
			set.Truncated = true
			return set
		}
		body := b[i+2 : i+length]

		switch kind {
		case layers.TCPOptionKindMSS:
			if length != mssOptionLen {
				set.Malformed = true
				return set
			}
			if !set.addOption(Option{Kind: kind, MSS: binary.BigEndian.Uint16(body)}) {
				return set
			}
		case layers.TCPOptionKindWindowScale:
			if length != windowScaleOptionLen {
				set.Malformed = true
				return set
			}
			if !set.addOption(Option{Kind: kind, WindowScale: body[0]}) {
				return set
			}
		case layers.TCPOptionKindSACKPermitted:
			if length != sackPermittedOptionLen {
				set.Malformed = true
				return set
			}
			if !set.addOption(Option{Kind: kind}) {
				return set
			}
		case layers.TCPOptionKindSACK:
			if len(body) == 0 || len(body)%sackBlockLen != 0 {
				set.Malformed = true
				return set
			}
			for j := 0; j < len(body); j += sackBlockLen {
				r := SackRange{
					Start: binary.BigEndian.Uint32(body[j : j+4]),
					End:   binary.BigEndian.Uint32(body[j+4 : j+8]),
				}
				if !set.addSack(r) {
					return set
				}
			}
		case layers.TCPOptionKindTimestamps:
			if length != timestampOptionLen {
				set.Malformed = true
				return set
			}
			set.Timestamp = Timestamp{
				Value: binary.BigEndian.Uint32(body[0:4]),
				Echo:  binary.BigEndian.Uint32(body[4:8]),
			}
			set.HasTimestamp = true
		default:
			// unknown kind, skipped by its length
		}
		i += length
	}
	return set
}
