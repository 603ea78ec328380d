package tcp

import (
	"firestige.xyz/flowmon/internal/core"
	"firestige.xyz/flowmon/internal/core/decoder"
)

// Outcome summarizes what one segment did to the connection.
type Outcome uint8

const (
	OutcomeTransition Outcome = 1 << iota
	OutcomeRetransmit
	OutcomeAnomaly
	OutcomeReset
)

func (o Outcome) Has(f Outcome) bool { return o&f != 0 }

// Err returns core.ErrProtocolAnomaly for an anomalous segment, nil
// otherwise.
func (o Outcome) Err() error {
	if o.Has(OutcomeAnomaly) {
		return core.ErrProtocolAnomaly
	}
	return nil
}

// Tracker is the per-connection TCP state machine. Directions are the
// session's: the client is the host that sent the first observed packet,
// which is not necessarily the host that opened the connection.
type Tracker struct {
	state     State
	stats     [2]HostStats
	handshake Handshake
	midstream bool
}

// NewTracker returns a tracker in Listen.
func NewTracker() *Tracker {
	return &Tracker{state: &Listen{}}
}

// State returns the current state. The value must not be retained across
// calls to Process.
func (t *Tracker) State() State { return t.state }

// Stats returns the counters of the host sending in dir.
func (t *Tracker) Stats(dir core.Direction) HostStats { return t.stats[dir] }

// Hosts returns the sequence trackers once the connection is established.
func (t *Tracker) Hosts() (client, server HostSeq, ok bool) {
	h := hosts(t.state)
	if h == nil {
		return HostSeq{}, HostSeq{}, false
	}
	return h[core.ClientToServer], h[core.ServerToClient], true
}

// Handshake returns the observed handshake timestamps.
func (t *Tracker) Handshake() Handshake { return t.handshake }

// Midstream reports whether the tracker attached to an already open
// connection.
func (t *Tracker) Midstream() bool { return t.midstream }

// Closed reports whether the connection reached the terminal state.
func (t *Tracker) Closed() bool {
	_, ok := t.state.(*Closed)
	return ok
}

// Process advances the state machine with one segment sent in dir.
func (t *Tracker) Process(seg *decoder.Segment, dir core.Direction, ts uint64) Outcome {
	if seg.Flags.RST() {
		return t.reset(dir)
	}

	switch s := t.state.(type) {
	case *Closed:
		return 0
	case *Listen:
		return t.listen(seg, dir, ts)
	case *SynSent:
		return t.synSent(s, seg, dir, ts)
	case *SynReceived:
		return t.synReceived(s, seg, dir, ts)
	case *Established:
		return t.established(s, seg, dir)
	case *ClientFinWait:
		return t.finWait(&s.Hosts, core.ClientToServer, seg, dir)
	case *ServerFinWait:
		return t.finWait(&s.Hosts, core.ServerToClient, seg, dir)
	case *Closing:
		return t.closing(s, seg, dir)
	}
	return 0
}

func (t *Tracker) anomaly(dir core.Direction) Outcome {
	t.stats[dir].Anomalies++
	return OutcomeAnomaly
}

func (t *Tracker) reset(dir core.Direction) Outcome {
	st := &t.stats[dir]
	if c, ok := t.state.(*Closed); ok {
		// a repeat only when this host already sent one
		if c.Reset && st.RstCount > 0 {
			st.RstRetransmits++
		} else {
			st.RstCount++
		}
		return 0
	}

	st.RstCount++
	closed := &Closed{Reset: true, ResetBy: dir}
	if h := hosts(t.state); h != nil {
		closed.Hosts = *h
		closed.Tracked = true
	}
	t.state = closed
	return OutcomeTransition | OutcomeReset
}

func (t *Tracker) listen(seg *decoder.Segment, dir core.Direction, ts uint64) Outcome {
	f := seg.Flags
	scale, _ := seg.Options.WindowScale()

	switch {
	case f.SYN() && !f.ACK():
		t.stats[dir].SynCount++
		t.handshake.SynTime, t.handshake.SawSyn = ts, true
		t.state = &SynSent{
			Opener:      dir,
			ISN:         seg.Seq,
			Window:      seg.Window,
			WindowScale: scale,
		}
		return OutcomeTransition

	case f.SYN() && f.ACK():
		// attached after the SYN: the peer opened the connection
		t.stats[dir].SynCount++
		t.handshake.SynAckTime, t.handshake.SawSynAck = ts, true
		t.state = &SynReceived{
			Opener:          dir.Reverse(),
			OpenerISN:       seg.Ack - 1,
			ResponderISN:    seg.Seq,
			ResponderAck:    seg.Ack,
			ResponderWindow: seg.Window,
			ResponderScale:  scale,
		}
		return OutcomeTransition

	case f.ACK():
		t.midstream = true
		e := &Established{Midstream: true}
		e.Hosts[dir] = HostSeq{SeqNo: seg.Seq, NextSeq: seg.Seq}
		e.Hosts[dir.Reverse()] = HostSeq{SeqNo: seg.Ack, NextSeq: seg.Ack}
		t.state = e
		return OutcomeTransition | t.established(e, seg, dir)
	}

	return t.anomaly(dir)
}

func (t *Tracker) synSent(s *SynSent, seg *decoder.Segment, dir core.Direction, ts uint64) Outcome {
	f := seg.Flags

	if dir == s.Opener {
		if f.SYN() && !f.ACK() {
			t.stats[dir].SynCount++
			if seg.Seq == s.ISN {
				t.stats[dir].SynRetransmits++
				return OutcomeRetransmit
			}
			// new connection attempt on the same tuple
			s.ISN = seg.Seq
			s.Window = seg.Window
			s.WindowScale, _ = seg.Options.WindowScale()
			t.handshake.SynTime = ts
			return 0
		}
		if !f.SYN() && f.ACK() && seg.Seq == seqAdd(s.ISN, 1) {
			return t.impliedHandshake(s, seg, dir)
		}
		return t.anomaly(dir)
	}

	if !f.SYN() && f.ACK() && seg.Ack == seqAdd(s.ISN, 1) {
		return t.impliedHandshake(s, seg, dir)
	}

	if f.SYN() && f.ACK() && seg.Ack == seqAdd(s.ISN, 1) {
		t.stats[dir].SynCount++
		scale, _ := seg.Options.WindowScale()
		t.handshake.SynAckTime, t.handshake.SawSynAck = ts, true
		t.state = &SynReceived{
			Opener:          s.Opener,
			OpenerISN:       s.ISN,
			OpenerWindow:    s.Window,
			OpenerScale:     s.WindowScale,
			ResponderISN:    seg.Seq,
			ResponderAck:    seg.Ack,
			ResponderWindow: seg.Window,
			ResponderScale:  scale,
		}
		return OutcomeTransition
	}
	if f.SYN() {
		t.stats[dir].SynCount++
	}
	return t.anomaly(dir)
}

// impliedHandshake attaches to a connection whose SYN-ACK was not
// captured. The opener keeps its SYN parameters; the other side starts from
// the segment.
func (t *Tracker) impliedHandshake(s *SynSent, seg *decoder.Segment, dir core.Direction) Outcome {
	t.midstream = true
	e := &Established{Midstream: true, Handshake: t.handshake}
	e.Hosts[s.Opener] = HostSeq{
		SeqNo:       s.ISN,
		NextSeq:     seqAdd(s.ISN, 1),
		Window:      s.Window,
		WindowScale: s.WindowScale,
	}
	peer := s.Opener.Reverse()
	if dir == s.Opener {
		e.Hosts[peer] = HostSeq{SeqNo: seg.Ack, NextSeq: seg.Ack}
	} else {
		e.Hosts[peer] = HostSeq{SeqNo: seg.Seq, NextSeq: seg.Seq}
	}
	t.state = e
	return OutcomeTransition | t.established(e, seg, dir)
}

func (t *Tracker) synReceived(s *SynReceived, seg *decoder.Segment, dir core.Direction, ts uint64) Outcome {
	f := seg.Flags

	if dir != s.Opener {
		if f.SYN() && f.ACK() {
			t.stats[dir].SynCount++
			t.stats[dir].SynRetransmits++
			return OutcomeRetransmit
		}
		return t.anomaly(dir)
	}

	switch {
	case f.SYN() && !f.ACK():
		t.stats[dir].SynCount++
		if seg.Seq == s.OpenerISN {
			t.stats[dir].SynRetransmits++
			return OutcomeRetransmit
		}
		return t.anomaly(dir)

	case f.SYN():
		t.stats[dir].SynCount++
		return t.anomaly(dir)

	case f.ACK():
		if seg.Ack != seqAdd(s.ResponderISN, 1) {
			// answers a SYN-ACK retransmission
			t.stats[dir].Retransmits++
			return OutcomeRetransmit
		}
		t.handshake.AckTime, t.handshake.SawAck = ts, true
		e := &Established{Handshake: t.handshake}
		e.Hosts[s.Opener] = HostSeq{
			SeqNo:       s.OpenerISN,
			NextSeq:     seqAdd(s.OpenerISN, 1),
			Window:      s.OpenerWindow,
			WindowScale: s.OpenerScale,
		}
		e.Hosts[s.Opener.Reverse()] = HostSeq{
			SeqNo:       s.ResponderISN,
			NextSeq:     seqAdd(s.ResponderISN, 1),
			AckNo:       s.ResponderAck,
			Window:      s.ResponderWindow,
			WindowScale: s.ResponderScale,
		}
		t.state = e
		return OutcomeTransition | t.established(e, seg, dir)
	}

	return t.anomaly(dir)
}

func (t *Tracker) established(e *Established, seg *decoder.Segment, dir core.Direction) Outcome {
	if seg.Flags.SYN() {
		t.stats[dir].SynCount++
		return t.anomaly(dir)
	}

	out := t.track(&e.Hosts, seg, dir)
	if !seg.Flags.FIN() {
		return out
	}

	finAck := seqAdd(seg.Seq, seg.SeqLen())
	if dir == core.ClientToServer {
		t.state = &ClientFinWait{Hosts: e.Hosts, FinAck: finAck}
	} else {
		t.state = &ServerFinWait{Hosts: e.Hosts, FinAck: finAck}
	}
	return out | OutcomeTransition
}

func (t *Tracker) finWait(h *[2]HostSeq, closer core.Direction, seg *decoder.Segment, dir core.Direction) Outcome {
	if seg.Flags.SYN() {
		t.stats[dir].SynCount++
		return t.anomaly(dir)
	}

	out := t.track(h, seg, dir)
	if dir == closer || !seg.Flags.FIN() {
		return out
	}

	t.state = &Closing{
		Hosts:       *h,
		FirstCloser: closer,
		FinalAck:    seqAdd(seg.Seq, seg.SeqLen()),
	}
	return out | OutcomeTransition
}

func (t *Tracker) closing(s *Closing, seg *decoder.Segment, dir core.Direction) Outcome {
	if seg.Flags.SYN() {
		t.stats[dir].SynCount++
		return t.anomaly(dir)
	}

	out := t.track(&s.Hosts, seg, dir)
	if dir != s.FirstCloser || !seg.Flags.ACK() || seqDiff(s.FinalAck, seg.Ack) < 0 {
		return out
	}

	t.state = &Closed{Hosts: s.Hosts, Tracked: true}
	return out | OutcomeTransition
}

// track applies one segment to the sender's sequence tracker and runs the
// retransmission, keep-alive, out-of-order and D-SACK heuristics.
func (t *Tracker) track(hosts *[2]HostSeq, seg *decoder.Segment, dir core.Direction) Outcome {
	h := &hosts[dir]
	st := &t.stats[dir]

	if seg.Flags.ACK() {
		h.AckNo = seg.Ack
	}
	h.Window = seg.Window
	if hasDSACK(seg) {
		t.stats[dir.Reverse()].SpuriousRetransmits++
	}

	n := seg.PayloadLen
	span := seg.SeqLen()
	d := seqDiff(h.NextSeq, seg.Seq)

	if n == 0 && d == -1 && !seg.Flags.FIN() {
		st.Keepalives++
		return 0
	}
	if span == 0 {
		return 0
	}

	if d >= 0 {
		if d > 0 {
			st.OutOfOrder++
		}
		h.SeqNo = seg.Seq
		h.DataBytes += uint64(n)
		h.NextSeq = seqAdd(seg.Seq, span)
		return 0
	}

	overlap := -d
	if overlap >= span {
		if n == 0 {
			// FIN retransmission
			return 0
		}
		st.Retransmits++
		st.RetransmitBytes += uint64(n)
		return OutcomeRetransmit
	}

	// partial overlap: only the old bytes count as retransmitted
	old := min(overlap, n)
	if old > 0 {
		st.Retransmits++
		st.RetransmitBytes += uint64(old)
	}
	h.SeqNo = seg.Seq
	h.DataBytes += uint64(n - old)
	h.NextSeq = seqAdd(seg.Seq, span)
	if old > 0 {
		return OutcomeRetransmit
	}
	return 0
}

// hasDSACK reports whether the first SACK block is a duplicate report: it
// lies below the cumulative acknowledgment or inside the second block.
func hasDSACK(seg *decoder.Segment) bool {
	sacks := seg.Options.SackRanges()
	if len(sacks) == 0 {
		return false
	}
	first := sacks[0]
	if seg.Flags.ACK() && seqDiff(first.End, seg.Ack) >= 0 {
		return true
	}
	if len(sacks) > 1 {
		second := sacks[1]
		return seqDiff(second.Start, first.Start) >= 0 && seqDiff(first.End, second.End) >= 0
	}
	return false
}

// Summary is an exportable copy of the tracker.
type Summary struct {
	State      string
	Midstream  bool
	Reset      bool
	Client     HostStats
	Server     HostStats
	ClientSeq  HostSeq
	ServerSeq  HostSeq
	SeqTracked bool

	ServerRTT    uint64
	ClientRTT    uint64
	HasServerRTT bool
	HasClientRTT bool
}

func (t *Tracker) Summary() Summary {
	s := Summary{
		State:     t.state.String(),
		Midstream: t.midstream,
		Client:    t.stats[core.ClientToServer],
		Server:    t.stats[core.ServerToClient],
	}
	if c, ok := t.state.(*Closed); ok {
		s.Reset = c.Reset
	}
	s.ClientSeq, s.ServerSeq, s.SeqTracked = t.Hosts()
	s.ServerRTT, s.HasServerRTT = t.handshake.ServerRTT()
	s.ClientRTT, s.HasClientRTT = t.handshake.ClientRTT()
	return s
}
