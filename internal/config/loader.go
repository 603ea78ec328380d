package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// configRoot is the top-level wrapper matching the YAML structure `flowmon: ...`.
type configRoot struct {
	Flowmon GlobalConfig `mapstructure:"flowmon"`
}

// Load loads configuration from file.
// The YAML file uses `flowmon:` as root key; env vars use the FLOWMON_ prefix (e.g., FLOWMON_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	return NewLoader(path).Load()
}

// Loader reads one configuration file and can watch it for changes.
type Loader struct {
	mu sync.Mutex
	v  *viper.Viper
}

// NewLoader prepares a loader for path. An empty path loads defaults and
// environment only.
func NewLoader(path string) *Loader {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	}

	// The `flowmon.` key prefix maps to `FLOWMON_` in env vars via the key
	// replacer (e.g., key "flowmon.log.level" → env "FLOWMON_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return &Loader{v: v}
}

// Load reads, decodes and validates the configuration.
func (l *Loader) Load() (*GlobalConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.v.ConfigFileUsed() != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*GlobalConfig, error) {
	var root configRoot
	if err := l.v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Flowmon

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Watch calls fn with the reloaded configuration, or the reload error,
// every time the file is written. Only settings that can change at runtime
// should be applied by fn.
func (l *Loader) Watch(fn func(*GlobalConfig, error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		l.mu.Lock()
		cfg, err := l.decode()
		l.mu.Unlock()
		fn(cfg, err)
	})
	l.v.WatchConfig()
}

// setDefaults sets default values for configuration.
// All keys use the "flowmon." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Node defaults
	v.SetDefault("flowmon.node.id", "")
	v.SetDefault("flowmon.node.hostname", "")

	// Log defaults
	v.SetDefault("flowmon.log.level", "info")
	v.SetDefault("flowmon.log.format", "text")
	v.SetDefault("flowmon.log.pattern", "")
	v.SetDefault("flowmon.log.time", "")
	v.SetDefault("flowmon.log.file.enabled", false)
	v.SetDefault("flowmon.log.file.filename", "/var/log/flowmon/flowmon.log")
	v.SetDefault("flowmon.log.file.max_size", 100)
	v.SetDefault("flowmon.log.file.max_backups", 5)
	v.SetDefault("flowmon.log.file.max_age", 30)
	v.SetDefault("flowmon.log.file.compress", true)

	// Metrics defaults
	v.SetDefault("flowmon.metrics.enabled", true)
	v.SetDefault("flowmon.metrics.listen", ":9091")
	v.SetDefault("flowmon.metrics.path", "/metrics")

	// Monitor defaults
	v.SetDefault("flowmon.monitor.shards", 0)
	v.SetDefault("flowmon.monitor.queue_size", 4096)
	v.SetDefault("flowmon.monitor.track_other_protocols", false)
	v.SetDefault("flowmon.monitor.sweep_interval", "10s")
	v.SetDefault("flowmon.monitor.stats_interval", "5s")
	v.SetDefault("flowmon.monitor.idle.tcp", "5m")
	v.SetDefault("flowmon.monitor.idle.tcp_closed", "10s")
	v.SetDefault("flowmon.monitor.idle.udp", "60s")
	v.SetDefault("flowmon.monitor.idle.other", "60s")

	// Source defaults
	v.SetDefault("flowmon.source.type", SourceAFPacket)
	v.SetDefault("flowmon.source.interface", "eth0")
	v.SetDefault("flowmon.source.snap_len", 65535)
	v.SetDefault("flowmon.source.bpf_filter", "")
	v.SetDefault("flowmon.source.file", "")
}
