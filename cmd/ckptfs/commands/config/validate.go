package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/ckptfs/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the ckptfs configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  ckptfs config validate

  # Validate specific config file
  ckptfs config validate --config /etc/ckptfs/config.yaml`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	cfg, err := config.MustLoad(path)
	if err != nil {
		return err
	}
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", path)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if warnings := configWarnings(cfg); len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	names := make([]string, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		names = append(names, fmt.Sprintf("%s (%s)", t.Name, t.Type))
	}
	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Memfs capacity:  %s (%d x %s)\n", cfg.Memfs.Capacity(), cfg.Memfs.BlockCount, cfg.Memfs.BlockSize)
	_, _ = fmt.Fprintf(out, "  Targets:         %s\n", strings.Join(names, ", "))
	_, _ = fmt.Fprintf(out, "  Upload threads:  %d\n", cfg.Backup.Retry.Threads)
	_, _ = fmt.Fprintf(out, "  API port:        %d\n", cfg.API.Port)
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)
	return nil
}

// configWarnings reports settings that load fine but are likely mistakes.
func configWarnings(cfg *config.Config) []string {
	var warnings []string
	if !cfg.Backup.Ledger.Enabled {
		warnings = append(warnings, "ledger disabled - every file is uploaded again after a restart")
	}
	if !cfg.API.Enabled {
		warnings = append(warnings, "API disabled - client commands cannot reach this server")
	}
	for _, t := range cfg.Targets {
		if t.Type == config.TargetMemory {
			warnings = append(warnings, fmt.Sprintf("target %q is in-memory and does not survive a restart", t.Name))
		}
	}
	if cfg.Memfs.EvictWatermark >= 1 {
		warnings = append(warnings, "background eviction disabled - writes fail with NoSpace once the pool is full")
	}
	return warnings
}
