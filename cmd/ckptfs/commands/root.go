// Package commands implements the ckptfs command line: the server itself
// and the client commands that talk to its control API.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/ckptfs/cmd/ckptfs/commands/config"
	"github.com/marmos91/ckptfs/internal/cli/output"
	"github.com/marmos91/ckptfs/pkg/apiclient"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile   string
	serverURL string
	outputFmt string
	noColor   bool
)

// Environment variables that override flag defaults.
const (
	envServer = "CKPTFS_SERVER"
	envConfig = "CKPTFS_CONFIG"
)

const defaultServer = "http://localhost:8080"

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ckptfs",
	Short: "ckptfs - in-memory checkpoint file system",
	Long: `ckptfs keeps checkpoint files in a fixed pool of memory blocks and
replicates every closed file to one or more under file systems (local
directories, S3 buckets) in the background.

Server commands (start, init, config) read the configuration file. Client
commands (status, put, backup, preload, ...) talk to a running server
through its control API, selected with --server.

Use "ckptfs [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	server := os.Getenv(envServer)
	if server == "" {
		server = defaultServer
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv(envConfig),
		"config file (env "+envConfig+", default: $XDG_CONFIG_HOME/ckptfs/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", server, "control API URL (env "+envServer+")")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format (table|json|yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(preloadCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(suspendCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(evictCmd)
	rootCmd.AddCommand(completionCmd)

	// Hide the default completion command (we provide our own)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// newClient returns an API client for --server.
func newClient() *apiclient.Client {
	return apiclient.New(serverURL)
}

// outputFormat returns the parsed --output flag.
func outputFormat() (output.Format, error) {
	return output.ParseFormat(outputFmt)
}

// newPrinter returns a stdout printer honoring --output and --no-color.
func newPrinter() (*output.Printer, error) {
	format, err := outputFormat()
	if err != nil {
		return nil, err
	}
	color := !noColor && output.DefaultPrinter().ColorEnabled()
	return output.NewPrinter(os.Stdout, format, color), nil
}

// printResult prints data as JSON or YAML, or renders table for the table
// format.
func printResult(data any, table output.TableRenderer) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, data)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, data)
	default:
		return output.PrintTable(os.Stdout, table)
	}
}

// printSuccess prints msg in table format only, so JSON and YAML output
// stay machine readable.
func printSuccess(msg string) {
	p, err := newPrinter()
	if err != nil || p.Format() != output.FormatTable {
		return
	}
	p.Success(msg)
}
