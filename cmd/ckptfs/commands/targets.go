package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/ckptfs/internal/cli/output"
	"github.com/marmos91/ckptfs/internal/cli/timeutil"
	"github.com/marmos91/ckptfs/pkg/apiclient"
)

var targetsCmd = &cobra.Command{
	Use:     "targets",
	Aliases: []string{"target"},
	Short:   "List backup targets",
	Long: `List the under file systems the server replicates to, in replication
order, with the number of committed files of each.

Examples:
  # List targets
  ckptfs targets

  # Show the committed files of one target
  ckptfs targets view s3`,
	Args: cobra.NoArgs,
	RunE: runTargetsList,
}

var targetsViewCmd = &cobra.Command{
	Use:   "view <name>",
	Short: "List the committed files of a target",
	Args:  cobra.ExactArgs(1),
	RunE:  runTargetsView,
}

func init() {
	targetsCmd.AddCommand(targetsViewCmd)
}

// TargetList renders targets as a table.
type TargetList []apiclient.Target

// Headers implements output.TableRenderer.
func (l TargetList) Headers() []string {
	return []string{"NAME", "TYPE", "FILES"}
}

// Rows implements output.TableRenderer.
func (l TargetList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, t := range l {
		rows = append(rows, []string{t.Name, t.Type, strconv.Itoa(t.Files)})
	}
	return rows
}

// ViewList renders a target view as a table.
type ViewList []apiclient.ViewEntry

// Headers implements output.TableRenderer.
func (l ViewList) Headers() []string {
	return []string{"PATH", "INODE", "GENERATION", "MTIME"}
}

// Rows implements output.TableRenderer.
func (l ViewList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		rows = append(rows, []string{
			e.Path,
			strconv.FormatUint(e.Inode, 10),
			strconv.FormatUint(e.Generation, 10),
			timeutil.FormatTime(e.Mtime),
		})
	}
	return rows
}

func runTargetsList(cmd *cobra.Command, args []string) error {
	targets, err := newClient().Targets(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list targets: %w", err)
	}
	return printResult(targets, TargetList(targets))
}

func runTargetsView(cmd *cobra.Command, args []string) error {
	entries, err := newClient().View(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get view of %s: %w", args[0], err)
	}
	if len(entries) == 0 {
		if format, _ := outputFormat(); format == output.FormatTable {
			fmt.Printf("Target %s holds no committed files.\n", args[0])
			return nil
		}
	}
	return printResult(entries, ViewList(entries))
}
