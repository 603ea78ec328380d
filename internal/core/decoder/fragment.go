package decoder

import "firestige.xyz/flowmon/internal/core"

// FragmentHandler receives every IPv4 fragment seen by a Decoder.
//
// An implementation accumulates fragments keyed by identification, source,
// destination and protocol. When a datagram is complete it returns the
// reassembled IPv4 datagram (header included, payload in offset order) with
// complete set; the Decoder classifies it once more. While a datagram is
// still partial it returns (nil, false, nil). Buffer exhaustion and
// timeouts are reported as core.DropFragmentExhausted and
// core.DropFragmentTimeout.
type FragmentHandler interface {
	HandleFragment(frag core.Fragment) (datagram []byte, complete bool, err error)
}

// DropFragments is the default FragmentHandler. It rejects every fragment.
type DropFragments struct{}

func (DropFragments) HandleFragment(core.Fragment) ([]byte, bool, error) {
	return nil, false, core.DropFragment
}

// FragmentHandlerFunc adapts a function to FragmentHandler.
type FragmentHandlerFunc func(frag core.Fragment) ([]byte, bool, error)

func (f FragmentHandlerFunc) HandleFragment(frag core.Fragment) ([]byte, bool, error) {
	return f(frag)
}
