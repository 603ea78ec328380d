package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/flowmon/internal/config"
	"firestige.xyz/flowmon/internal/daemon"
	"firestige.xyz/flowmon/internal/log"
)

func newRunCommand(configFile *string) *cobra.Command {
	var pidFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the monitor in foreground",
		Long: `Run flowmon in foreground with the configured source and reporters.

The process will:
  1. Load configuration and initialize logging and metrics
  2. Open the packet source and the session reporters
  3. Sweep idle sessions into the reporters every monitor.sweep_interval
  4. Watch the config file and apply log level changes
  5. On SIGTERM or SIGINT, or at the end of a capture file, report every
     remaining session and exit

Examples:
  flowmon run -c /etc/flowmon/flowmon.yaml
  FLOWMON_SOURCE_INTERFACE=eth1 flowmon run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, cfg, err := loadConfig(*configFile, false)
			if err != nil {
				return err
			}
			if err := initLogging(cfg); err != nil {
				return err
			}
			defer log.Close()
			return runDaemon(cmd.Context(), loader, cfg, pidFile)
		},
	}

	cmd.Flags().StringVarP(&pidFile, "pidfile", "p", "", "PID file path")
	return cmd
}

func runDaemon(ctx context.Context, loader *config.Loader, cfg *config.GlobalConfig, pidFile string) error {
	opts := []daemon.Option{daemon.WithLoader(loader), daemon.WithPIDFile(pidFile)}
	if cfg.Source.Type == config.SourceAFPacket {
		opts = append(opts, daemon.WithWallClock())
	}

	d, err := daemon.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return d.Run(ctx)
}
