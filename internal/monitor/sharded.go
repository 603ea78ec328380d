package monitor

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/tevino/abool"

	"firestige.xyz/flowmon/internal/core"
	"firestige.xyz/flowmon/internal/core/decoder"
	"firestige.xyz/flowmon/internal/log"
	"firestige.xyz/flowmon/internal/session"
)

const defaultQueueSize = 4096

// ShardedConfig configures a Sharded monitor.
type ShardedConfig struct {
	Shards    int
	QueueSize int // per shard
	Monitor   Config
	// NewFragmentHandler builds the fragment handler of each shard.
	// Fragments of one datagram always reach the same shard, so handlers
	// need not be shared. Takes precedence over Monitor.FragmentHandler.
	NewFragmentHandler func(shard int) decoder.FragmentHandler
	// StatsInterval is how often each shard reports counter deltas to
	// OnStats. Zero reports only when the shard stops.
	StatsInterval time.Duration
	OnStats       func(shard int, delta Stats)
}

// Sharded spreads packets over independent Monitors, one goroutine each.
// Both directions and every fragment of a conversation share an address
// pair and therefore a shard. Control operations (sweeps, snapshots,
// stats) run on the owning goroutine, between packets.
type Sharded struct {
	cfg     ShardedConfig
	shards  []*shard
	wg      conc.WaitGroup
	mu      sync.RWMutex
	running *abool.AtomicBool
	log     log.Logger
}

type shard struct {
	id      int
	mon     *Monitor
	packets chan core.RawPacket
	control chan func(*Monitor)
	last    Stats
}

// NewSharded creates a stopped Sharded monitor.
func NewSharded(cfg ShardedConfig) (*Sharded, error) {
	if cfg.Shards <= 0 {
		return nil, fmt.Errorf("%w: shards must be positive, got %d", core.ErrConfigInvalid, cfg.Shards)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Shards > 1 && cfg.Monitor.FragmentHandler != nil && cfg.NewFragmentHandler == nil {
		return nil, fmt.Errorf("%w: a shared fragment handler needs NewFragmentHandler with more than one shard", core.ErrConfigInvalid)
	}

	s := &Sharded{
		cfg:     cfg,
		shards:  make([]*shard, cfg.Shards),
		running: abool.New(),
		log:     log.Named("monitor"),
	}
	for i := range s.shards {
		mcfg := cfg.Monitor
		if cfg.NewFragmentHandler != nil {
			mcfg.FragmentHandler = cfg.NewFragmentHandler(i)
		}
		s.shards[i] = &shard{
			id:      i,
			mon:     New(mcfg),
			packets: make(chan core.RawPacket, cfg.QueueSize),
			control: make(chan func(*Monitor)),
		}
	}
	return s, nil
}

// Start launches one goroutine per shard.
func (s *Sharded) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.IsSet() {
		return
	}
	for _, sh := range s.shards {
		sh := sh
		s.wg.Go(func() { s.run(sh) })
	}
	s.running.Set()
	s.log.WithField("shards", len(s.shards)).Info("monitor started")
}

// Running reports whether the workers are up.
func (s *Sharded) Running() bool { return s.running.IsSet() }

// Stop lets every shard drain its queue and waits for the workers to exit.
// Sessions stay in place; Flush after Stop to collect them.
func (s *Sharded) Stop() {
	s.mu.Lock()
	if !s.running.IsSet() {
		s.mu.Unlock()
		return
	}
	s.running.UnSet()
	for _, sh := range s.shards {
		close(sh.packets)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("monitor stopped")
}

// Submit queues a packet on its shard, blocking while the queue is full.
// The shard owns raw.Data from now on.
func (s *Sharded) Submit(raw core.RawPacket) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running.IsSet() {
		return core.ErrMonitorStopped
	}
	s.shards[shardOf(raw.Data, len(s.shards))].packets <- raw
	return nil
}

// shardOf hashes the unordered address pair and protocol of an IPv4
// header. Anything else goes to shard 0, where it is dropped.
func shardOf(data []byte, n int) int {
	if n == 1 || len(data) < 20 || data[0]>>4 != 4 {
		return 0
	}
	src := netip.AddrFrom4([4]byte(data[12:16]))
	dst := netip.AddrFrom4([4]byte(data[16:20]))
	return int(session.AddrHash(src, dst, data[9]) % uint64(n))
}

func (s *Sharded) run(sh *shard) {
	var tick <-chan time.Time
	if s.cfg.StatsInterval > 0 {
		t := time.NewTicker(s.cfg.StatsInterval)
		defer t.Stop()
		tick = t.C
	}
	defer s.publish(sh)

	for {
		select {
		case raw, ok := <-sh.packets:
			if !ok {
				return
			}
			sh.mon.HandlePacket(raw.Data, raw.Timestamp)
		case fn := <-sh.control:
			fn(sh.mon)
		case <-tick:
			s.publish(sh)
		}
	}
}

func (s *Sharded) publish(sh *shard) {
	if s.cfg.OnStats == nil {
		return
	}
	cur := sh.mon.Stats()
	s.cfg.OnStats(sh.id, cur.Sub(sh.last))
	sh.last = cur
}

// exec runs fn on every shard's monitor. While the workers run it is
// executed on their goroutines; otherwise directly. Once fn is queued on a
// shard, exec waits for it even if ctx is done, so its effects are never
// lost. The error reports the shards fn was not queued on.
func (s *Sharded) exec(ctx context.Context, fn func(i int, m *Monitor)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running.IsSet() {
		for i, sh := range s.shards {
			fn(i, sh.mon)
		}
		return nil
	}

	var err error
	done := make(chan struct{}, len(s.shards))
	queued := 0
	for i, sh := range s.shards {
		i := i
		select {
		case sh.control <- func(m *Monitor) { fn(i, m); done <- struct{}{} }:
			queued++
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err != nil {
			break
		}
	}
	for ; queued > 0; queued-- {
		<-done
	}
	return err
}

// Sweep expires idle sessions on every shard, each by its own clock. On
// error the sessions expired by the shards that did run are still returned.
func (s *Sharded) Sweep(ctx context.Context) ([]session.Expired, error) {
	parts := make([][]session.Expired, len(s.shards))
	err := s.exec(ctx, func(i int, m *Monitor) { parts[i] = m.Sweep() })
	return concat(parts), err
}

// Flush removes every session from every shard. Like Sweep it returns what
// was removed even on error.
func (s *Sharded) Flush(ctx context.Context) ([]session.Expired, error) {
	parts := make([][]session.Expired, len(s.shards))
	err := s.exec(ctx, func(i int, m *Monitor) { parts[i] = m.Flush() })
	return concat(parts), err
}

// Snapshot copies every live session.
func (s *Sharded) Snapshot(ctx context.Context) ([]session.Snapshot, error) {
	parts := make([][]session.Snapshot, len(s.shards))
	if err := s.exec(ctx, func(i int, m *Monitor) { parts[i] = m.Snapshot() }); err != nil {
		return nil, err
	}
	return concat(parts), nil
}

// Stats sums the counters of every shard.
func (s *Sharded) Stats(ctx context.Context) (Stats, error) {
	parts := make([]Stats, len(s.shards))
	if err := s.exec(ctx, func(i int, m *Monitor) { parts[i] = m.Stats() }); err != nil {
		return Stats{}, err
	}
	var total Stats
	for _, p := range parts {
		total.Add(p)
	}
	return total, nil
}

func concat[T any](parts [][]T) []T {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]T, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
