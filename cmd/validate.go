package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/flowmon/internal/report"
)

func newValidateCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Validate the configuration file without starting a capture, and print the
effective configuration with defaults and environment overrides applied.

Examples:
  flowmon validate -c /etc/flowmon/flowmon.yaml
  FLOWMON_LOG_LEVEL=debug flowmon validate -c flowmon.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(*configFile, cmd.OutOrStdout())
		},
	}
}

func runValidate(path string, w io.Writer) error {
	_, cfg, err := loadConfig(path, false)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	// building the reporters checks their options too
	reporters, err := report.Open(cfg.Reporters)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	if err := reporters.Close(); err != nil {
		return err
	}

	out, err := yaml.Marshal(map[string]any{"flowmon": cfg})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "VALID: source %s, %d reporter(s)\n", cfg.Source.Type, len(cfg.Reporters))
	_, err = w.Write(out)
	return err
}
