package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/flowmon/internal/config"
	"firestige.xyz/flowmon/internal/core"
	"firestige.xyz/flowmon/internal/daemon"
	"firestige.xyz/flowmon/internal/log"
	"firestige.xyz/flowmon/internal/monitor"
)

type replayOptions struct {
	file    string
	format  string // console reporter format when none is configured
	metrics bool
	tunnels []string
}

func newReplayCommand(configFile *string) *cobra.Command {
	var opts replayOptions

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a capture file through the monitor",
		Long: `Replay a pcap or pcapng file through the monitor and report every
session it contains. Reporters come from the config file; without any, sessions
are printed to the console. The config file is optional.

Examples:
  flowmon replay -f capture.pcap
  flowmon replay -f capture.pcapng --format json
  flowmon replay -f tunnel.pcap --tunnel vxlan,gre`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(*configFile, !cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if err := initLogging(cfg); err != nil {
				return err
			}
			defer log.Close()
			return runReplay(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "capture file to replay (required)")
	cmd.Flags().StringVar(&opts.format, "format", "text", "console output format: text or json")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", false, "serve metrics while replaying")
	cmd.Flags().StringSliceVar(&opts.tunnels, "tunnel", nil, "tunnels to strip: vxlan, gre, geneve, ipip")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runReplay(ctx context.Context, cfg *config.GlobalConfig, opts replayOptions, w io.Writer) error {
	cfg.Source = config.SourceConfig{Type: config.SourceFile, File: opts.file}
	if len(opts.tunnels) > 0 {
		tunnels := make(map[string]any, len(opts.tunnels))
		for _, t := range opts.tunnels {
			tunnels[t] = true
		}
		cfg.Source.Options = map[string]any{"tunnels": tunnels}
	}
	if err := cfg.Source.Validate(); err != nil {
		return err
	}
	if len(cfg.Reporters) == 0 {
		cfg.Reporters = []config.ReporterConfig{{
			Type:    config.ReporterConsole,
			Name:    config.ReporterConsole,
			Options: map[string]any{"format": opts.format},
		}}
	}
	cfg.Metrics.Enabled = opts.metrics

	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start replay: %w", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runErr := d.Run(ctx)

	stats, err := d.Stats(context.Background())
	if err != nil {
		return err
	}
	printSummary(w, stats)
	return runErr
}

// printSummary writes the packet counters and every non-zero drop reason.
func printSummary(w io.Writer, s monitor.Stats) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "packets\t%d\n", s.Packets)
	fmt.Fprintf(tw, "bytes\t%d\n", s.Bytes)
	fmt.Fprintf(tw, "sessions\t%d\n", s.SessionsCreated)
	fmt.Fprintf(tw, "tcp retransmits\t%d\n", s.TCPRetransmits)
	fmt.Fprintf(tw, "tcp resets\t%d\n", s.TCPResets)
	fmt.Fprintf(tw, "dropped\t%d\n", s.DroppedTotal())
	for i, n := range s.Drops {
		if n > 0 {
			fmt.Fprintf(tw, "  %s\t%d\n", core.DropReason(i), n)
		}
	}
	if s.FragmentsHeld > 0 {
		fmt.Fprintf(tw, "fragments held\t%d\n", s.FragmentsHeld)
	}
	tw.Flush()
}
