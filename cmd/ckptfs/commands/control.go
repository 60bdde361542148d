package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/ckptfs/internal/bytesize"
	"github.com/marmos91/ckptfs/internal/cli/output"
)

var suspendCmd = &cobra.Command{
	Use:   "suspend",
	Short: "Stop scheduling backups for new file events",
	Long: `Stop the server from scheduling uploads for files closed from now on.

Queued uploads keep running. Files closed while suspended stay dirty until
they are backed up explicitly or closed again after "ckptfs resume".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := newClient().Suspend(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to suspend: %w", err)
		}
		printSuccess("Backups suspended")
		return printResult(status, statusFields(status))
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume scheduling backups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := newClient().Resume(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to resume: %w", err)
		}
		printSuccess("Backups resumed")
		return printResult(status, statusFields(status))
	},
}

var evictCmd = &cobra.Command{
	Use:   "evict <size>",
	Short: "Free memfs blocks by evicting backed up files",
	Long: `Evict clean files, least recently modified first, until size bytes
are free. Files that are open or not yet committed to every target are
never evicted.

Examples:
  ckptfs evict 4GiB
  ckptfs evict 512Mi`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := bytesize.ParseByteSize(args[0])
		if err != nil {
			return fmt.Errorf("invalid size %q: %w", args[0], err)
		}
		res, err := newClient().Evict(cmd.Context(), size.Uint64())
		if err != nil {
			return fmt.Errorf("failed to evict: %w", err)
		}
		fields := output.Fields{}.
			Add("Freed", output.Bytes(res.FreedBytes)).
			Add("Files", strconv.Itoa(res.Files)).
			Add("Free blocks", strconv.FormatUint(res.FreeBlocks, 10))
		return printResult(res, fields)
	},
}
