// Package afpacket captures live traffic from a TPACKET_V3 ring.
package afpacket

import "time"

// Options are the ring parameters, decoded from the source options map.
type Options struct {
	BufferSizeMB int           `mapstructure:"buffer_size_mb"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	FanoutID     uint16        `mapstructure:"fanout_id"`
}

// DefaultOptions returns the options used for unset fields.
func DefaultOptions() Options {
	return Options{BufferSizeMB: 64, PollTimeout: 100 * time.Millisecond}
}

// Config describes one capture.
type Config struct {
	Interface string
	SnapLen   int
	BPFFilter string
	Options   Options
}
