// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	uuid "github.com/satori/go.uuid"

	"firestige.xyz/flowmon/internal/log"
	"firestige.xyz/flowmon/internal/session"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `flowmon:` root key in YAML.
type GlobalConfig struct {
	Node      NodeConfig       `mapstructure:"node" yaml:"node"`
	Log       log.Config       `mapstructure:"log" yaml:"log"`
	Metrics   MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Monitor   MonitorConfig    `mapstructure:"monitor" yaml:"monitor"`
	Source    SourceConfig     `mapstructure:"source" yaml:"source"`
	Reporters []ReporterConfig `mapstructure:"reporters" yaml:"reporters"`
}

// ─── Node Identity ───

// NodeConfig identifies this probe in reported records.
type NodeConfig struct {
	ID       string            `mapstructure:"id" yaml:"id"`             // Empty = random UUID v4
	Hostname string            `mapstructure:"hostname" yaml:"hostname"` // Empty = os.Hostname()
	Tags     map[string]string `mapstructure:"tags" yaml:"tags,omitempty"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Monitor ───

// MonitorConfig configures the sharded session monitor.
type MonitorConfig struct {
	Shards              int           `mapstructure:"shards" yaml:"shards"` // 0 = auto (GOMAXPROCS)
	QueueSize           int           `mapstructure:"queue_size" yaml:"queue_size"`
	TrackOtherProtocols bool          `mapstructure:"track_other_protocols" yaml:"track_other_protocols"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	StatsInterval       time.Duration `mapstructure:"stats_interval" yaml:"stats_interval"`
	Idle                IdleConfig    `mapstructure:"idle" yaml:"idle"`
}

// IdleConfig holds idle timeouts per session class. Zero never expires.
type IdleConfig struct {
	TCP       time.Duration `mapstructure:"tcp" yaml:"tcp"`
	TCPClosed time.Duration `mapstructure:"tcp_closed" yaml:"tcp_closed"`
	UDP       time.Duration `mapstructure:"udp" yaml:"udp"`
	Other     time.Duration `mapstructure:"other" yaml:"other"`
}

// Policy converts the timeouts to nanoseconds, the timestamp unit of every
// packet source.
func (c IdleConfig) Policy() session.IdlePolicy {
	return session.IdlePolicy{
		TCP:       uint64(c.TCP.Nanoseconds()),
		TCPClosed: uint64(c.TCPClosed.Nanoseconds()),
		UDP:       uint64(c.UDP.Nanoseconds()),
		Other:     uint64(c.Other.Nanoseconds()),
	}
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
		return err
	}
	switch cfg.Log.Format {
	case log.FormatText, log.FormatJSON, log.FormatConsole, log.FormatPattern:
	default:
		return fmt.Errorf("invalid log format: %s (must be text/json/console/pattern)", cfg.Log.Format)
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Filename == "" {
		return fmt.Errorf("log.file.filename is required when log.file.enabled=true")
	}

	// ── Node identity ──
	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}
	if cfg.Node.ID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("failed to generate node id: %w", err)
		}
		cfg.Node.ID = id.String()
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics.enabled=true")
	}

	// ── Monitor ──
	m := &cfg.Monitor
	if m.Shards < 0 {
		return fmt.Errorf("monitor.shards must not be negative, got %d", m.Shards)
	}
	if m.Shards == 0 {
		m.Shards = runtime.GOMAXPROCS(0)
	}
	if m.QueueSize <= 0 {
		return fmt.Errorf("monitor.queue_size must be positive, got %d", m.QueueSize)
	}
	if m.SweepInterval < 0 || m.StatsInterval < 0 {
		return fmt.Errorf("monitor intervals must not be negative")
	}
	if m.Idle.TCP < 0 || m.Idle.TCPClosed < 0 || m.Idle.UDP < 0 || m.Idle.Other < 0 {
		return fmt.Errorf("monitor.idle timeouts must not be negative")
	}

	// ── Components ──
	if err := cfg.Source.Validate(); err != nil {
		return err
	}
	for i := range cfg.Reporters {
		if err := cfg.Reporters[i].Validate(); err != nil {
			return fmt.Errorf("reporters[%d]: %w", i, err)
		}
	}

	return nil
}
