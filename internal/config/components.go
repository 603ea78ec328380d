package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Source types.
const (
	SourceAFPacket = "afpacket"
	SourceFile     = "file"
)

// Reporter types.
const (
	ReporterConsole = "console"
	ReporterKafka   = "kafka"
)

// SourceConfig selects and configures the packet source.
type SourceConfig struct {
	Type      string         `mapstructure:"type" yaml:"type"`           // afpacket / file
	Interface string         `mapstructure:"interface" yaml:"interface"` // eth0 / eth1
	File      string         `mapstructure:"file" yaml:"file,omitempty"` // pcap or pcapng path
	BPFFilter string         `mapstructure:"bpf_filter" yaml:"bpf_filter,omitempty"`
	SnapLen   int            `mapstructure:"snap_len" yaml:"snap_len"`
	Options   map[string]any `mapstructure:"options" yaml:"options,omitempty"` // Source-specific (fanout_group, block_size, etc.)
}

// ReporterConfig selects and configures one session reporter.
type ReporterConfig struct {
	Type    string         `mapstructure:"type" yaml:"type"` // console / kafka
	Name    string         `mapstructure:"name" yaml:"name,omitempty"`
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

// Validate validates source configuration and applies defaults.
func (c *SourceConfig) Validate() error {
	switch c.Type {
	case SourceAFPacket:
		if c.Interface == "" {
			return fmt.Errorf("source.interface is required for type %q", c.Type)
		}
	case SourceFile:
		if c.File == "" {
			return fmt.Errorf("source.file is required for type %q", c.Type)
		}
	default:
		return fmt.Errorf("unsupported source.type: %q (must be afpacket/file)", c.Type)
	}
	if c.SnapLen <= 0 {
		c.SnapLen = 65535 // Default snap length
	}
	return nil
}

// Validate validates reporter configuration. Name defaults to Type.
func (c *ReporterConfig) Validate() error {
	switch c.Type {
	case ReporterConsole, ReporterKafka:
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unsupported reporter type: %q", c.Type)
	}
	if c.Name == "" {
		c.Name = c.Type
	}
	return nil
}

// DecodeOptions decodes a free-form options map into out, a pointer to a
// struct with mapstructure tags. Strings are accepted for durations and
// numbers; unknown keys are rejected.
func DecodeOptions(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}
