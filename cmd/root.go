// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/flowmon/internal/config"
	"firestige.xyz/flowmon/internal/log"

	// reporter types
	_ "firestige.xyz/flowmon/internal/report/console"
	_ "firestige.xyz/flowmon/internal/report/kafka"
)

const defaultConfigFile = "/etc/flowmon/flowmon.yaml"

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "flowmon",
		Short: "flowmon - passive IPv4 flow monitor",
		Long: `flowmon passively follows TCP and UDP conversations seen on a capture
interface or in a capture file. It tracks connection state, retransmissions,
resets and handshake latency per session, without taking part in the traffic,
and exports finished sessions to the console or Kafka.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigFile, "config file path")

	root.AddCommand(
		newRunCommand(&configFile),
		newReplayCommand(&configFile),
		newValidateCommand(&configFile),
	)
	return root
}

// Execute runs the root command. This is called by main.main().
func Execute() error {
	return NewRootCommand().Execute()
}

// loadConfig reads path. When optional is set, a missing file falls back to
// defaults and environment.
func loadConfig(path string, optional bool) (*config.Loader, *config.GlobalConfig, error) {
	if optional {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}

func initLogging(cfg *config.GlobalConfig) error {
	if err := log.Init(cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	return nil
}
