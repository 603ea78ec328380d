package source

import (
	"fmt"

	"firestige.xyz/flowmon/internal/config"
	"firestige.xyz/flowmon/internal/source/afpacket"
	"firestige.xyz/flowmon/internal/source/file"
)

type options struct {
	Tunnels          Tunnels `mapstructure:"tunnels"`
	afpacket.Options `mapstructure:",squash"`
}

// Open creates the source described by cfg.
func Open(cfg config.SourceConfig) (*Source, error) {
	var opts options
	if err := config.DecodeOptions(cfg.Options, &opts); err != nil {
		return nil, fmt.Errorf("source %s: %w", cfg.Type, err)
	}

	switch cfg.Type {
	case config.SourceFile:
		r, err := file.Open(cfg.File)
		if err != nil {
			return nil, err
		}
		return New(file.Name+":"+cfg.File, r, opts.Tunnels), nil
	case config.SourceAFPacket:
		r, err := afpacket.Open(afpacket.Config{
			Interface: cfg.Interface,
			SnapLen:   cfg.SnapLen,
			BPFFilter: cfg.BPFFilter,
			Options:   opts.Options,
		})
		if err != nil {
			return nil, err
		}
		return New(afpacket.Name+":"+cfg.Interface, r, opts.Tunnels), nil
	default:
		return nil, fmt.Errorf("unsupported source type: %q", cfg.Type)
	}
}
