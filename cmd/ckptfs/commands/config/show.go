package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/ckptfs/internal/cli/output"
	"github.com/marmos91/ckptfs/pkg/config"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective ckptfs configuration after defaults and
environment overrides are applied.

By default outputs YAML format. Use --output json to change format.

Examples:
  # Show default config as YAML
  ckptfs config show

  # Show as JSON
  ckptfs config show --output json

  # Show specific config file
  ckptfs config show --config /etc/ckptfs/config.yaml`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(configPath(cmd))
	if err != nil {
		return err
	}

	flag, _ := cmd.Flags().GetString("output")
	format, err := output.ParseFormat(flag)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	default:
		return output.PrintYAML(cmd.OutOrStdout(), cfg)
	}
}
