// Package tcp tracks the lifecycle of one passively observed TCP connection.
package tcp

import "firestige.xyz/flowmon/internal/core"

// State is one of Listen, SynSent, SynReceived, Established,
// ClientFinWait, ServerFinWait, Closing or Closed. Each variant owns only
// the fields meaningful in that state.
type State interface {
	String() string
	isState()
}

// Listen is the state before any segment was seen.
type Listen struct{}

// SynSent: the opener's SYN was seen.
type SynSent struct {
	Opener      core.Direction
	ISN         uint32
	Window      uint16
	WindowScale uint8
}

// SynReceived: the responder's SYN-ACK was seen. When the monitor attached
// after the SYN, OpenerISN is derived from the SYN-ACK acknowledgment.
type SynReceived struct {
	Opener          core.Direction
	OpenerISN       uint32
	OpenerWindow    uint16
	OpenerScale     uint8
	ResponderISN    uint32
	ResponderAck    uint32
	ResponderWindow uint16
	ResponderScale  uint8
}

// Established carries both hosts' sequence trackers, indexed by the
// core.Direction their segments travel in.
type Established struct {
	Hosts     [2]HostSeq
	Midstream bool // attached without seeing the handshake
	Handshake
}

func (e *Established) Client() *HostSeq { return &e.Hosts[core.ClientToServer] }
func (e *Established) Server() *HostSeq { return &e.Hosts[core.ServerToClient] }

// ClientFinWait: the client sent FIN, the server side is still open.
type ClientFinWait struct {
	Hosts  [2]HostSeq
	FinAck uint32 // acknowledgment number covering the client's FIN
}

// ServerFinWait: the server sent FIN, the client side is still open.
type ServerFinWait struct {
	Hosts  [2]HostSeq
	FinAck uint32
}

// Closing: both sides sent FIN, waiting for the first closer to
// acknowledge the second FIN.
type Closing struct {
	Hosts       [2]HostSeq
	FirstCloser core.Direction
	FinalAck    uint32
}

// Closed is terminal. Hosts holds the final sequence trackers when the
// connection was closed after being established.
type Closed struct {
	Reset   bool
	ResetBy core.Direction
	Hosts   [2]HostSeq
	Tracked bool
}

func (*Listen) isState()        {}
func (*SynSent) isState()       {}
func (*SynReceived) isState()   {}
func (*Established) isState()   {}
func (*ClientFinWait) isState() {}
func (*ServerFinWait) isState() {}
func (*Closing) isState()       {}
func (*Closed) isState()        {}

func (*Listen) String() string        { return "listen" }
func (*SynSent) String() string       { return "syn_sent" }
func (*SynReceived) String() string   { return "syn_received" }
func (*Established) String() string   { return "established" }
func (*ClientFinWait) String() string { return "client_fin_wait" }
func (*ServerFinWait) String() string { return "server_fin_wait" }
func (*Closing) String() string       { return "closing" }
func (*Closed) String() string        { return "closed" }

// hosts returns the sequence trackers of states that carry them.
func hosts(s State) *[2]HostSeq {
	switch s := s.(type) {
	case *Established:
		return &s.Hosts
	case *ClientFinWait:
		return &s.Hosts
	case *ServerFinWait:
		return &s.Hosts
	case *Closing:
		return &s.Hosts
	case *Closed:
		if s.Tracked {
			return &s.Hosts
		}
	}
	return nil
}
