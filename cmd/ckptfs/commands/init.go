package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marmos91/ckptfs/internal/cli/prompt"
	"github.com/marmos91/ckptfs/pkg/config"
)

var (
	initForce       bool
	initInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	Long: `Initialize a ckptfs configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/ckptfs/config.yaml.
Use --config to specify a custom path. With --interactive the memfs pool,
the first target and the API port are asked for instead of using defaults.

Examples:
  # Initialize with default location
  ckptfs init

  # Initialize with custom path
  ckptfs init --config /etc/ckptfs/config.yaml

  # Answer a few questions instead of editing the sample
  ckptfs init --interactive

  # Force overwrite existing config
  ckptfs init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Prompt for the main settings")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	var err error
	if initInteractive {
		err = initInteractively(configPath)
	} else {
		err = config.InitConfigToPath(configPath, initForce)
	}
	if err != nil {
		if prompt.IsAborted(err) {
			fmt.Println("Aborted.")
			return nil
		}
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Review the targets and the memfs pool size")
	fmt.Println("  2. Start the server with: ckptfs start")
	fmt.Printf("  3. Or specify custom config: ckptfs start --config %s\n", configPath)
	return nil
}

// initInteractively builds a configuration from prompts and saves it.
func initInteractively(path string) error {
	if _, err := os.Stat(path); err == nil {
		ok, err := prompt.ConfirmWithForce(fmt.Sprintf("%s exists. Overwrite", path), initForce)
		if err != nil {
			return err
		}
		if !ok {
			return prompt.ErrAborted
		}
	}

	cfg := config.GetDefaultConfig()

	workPath, err := prompt.InputRequired("Work directory", cfg.WorkPath)
	if err != nil {
		return err
	}
	cfg.WorkPath = workPath
	cfg.Backup.Ledger.Path = filepath.Join(workPath, "ledger")

	if cfg.Memfs.BlockSize, err = prompt.InputByteSize("Block size", cfg.Memfs.BlockSize); err != nil {
		return err
	}
	count, err := prompt.InputInt("Block count", int(cfg.Memfs.BlockCount))
	if err != nil {
		return err
	}
	cfg.Memfs.BlockCount = uint64(count)

	if cfg.Memfs.Allocator, err = prompt.Select("Block allocator", []prompt.SelectOption{
		{Label: "mmap", Value: "mmap", Description: "Anonymous mapping outside the Go heap"},
		{Label: "heap", Value: "heap", Description: "One Go slice, for platforms without mmap"},
	}); err != nil {
		return err
	}

	target, err := promptTarget(workPath)
	if err != nil {
		return err
	}
	cfg.Targets = []config.TargetConfig{target}

	if cfg.API.Port, err = prompt.InputPort("API port", cfg.API.Port); err != nil {
		return err
	}
	if cfg.Metrics.Enabled, err = prompt.Confirm("Enable Prometheus metrics", false); err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port, err = prompt.InputPort("Metrics port", cfg.Metrics.Port); err != nil {
			return err
		}
	}

	if err := config.Validate(cfg); err != nil {
		return err
	}
	return config.SaveConfig(cfg, path)
}

// promptTarget asks for the first under file system.
func promptTarget(workPath string) (config.TargetConfig, error) {
	kind, err := prompt.Select("Backup target", []prompt.SelectOption{
		{Label: "local", Value: config.TargetLocal, Description: "A directory, e.g. an NFS or Lustre mount"},
		{Label: "s3", Value: config.TargetS3, Description: "An S3 compatible bucket"},
		{Label: "memory", Value: config.TargetMemory, Description: "In-process, lost on restart"},
	})
	if err != nil {
		return config.TargetConfig{}, err
	}

	name, err := prompt.InputRequired("Target name", kind)
	if err != nil {
		return config.TargetConfig{}, err
	}
	target := config.TargetConfig{Name: name, Type: kind}

	switch kind {
	case config.TargetLocal:
		target.Path, err = prompt.InputRequired("Target directory", filepath.Join(workPath, "backup"))
	case config.TargetS3:
		if target.Bucket, err = prompt.InputRequired("Bucket", ""); err != nil {
			return target, err
		}
		if target.Region, err = prompt.Input("Region", "us-east-1"); err != nil {
			return target, err
		}
		if target.Endpoint, err = prompt.Input("Endpoint (empty for AWS)", ""); err != nil {
			return target, err
		}
		target.ForcePathStyle = target.Endpoint != ""
		target.Prefix, err = prompt.Input("Key prefix", "ckptfs/")
	}
	return target, err
}
