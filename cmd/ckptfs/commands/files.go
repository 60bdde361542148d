package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/ckptfs/internal/cli/output"
	"github.com/marmos91/ckptfs/internal/cli/prompt"
	"github.com/marmos91/ckptfs/internal/cli/timeutil"
	"github.com/marmos91/ckptfs/pkg/apiclient"
)

var (
	putSync     bool
	putMode     string
	backupForce bool
	preloadWait bool
	removeForce bool
)

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Show the memfs attributes of a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runStat,
}

var putCmd = &cobra.Command{
	Use:   "put <local-file> <path>",
	Short: "Write a local file into memfs",
	Long: `Copy a local file into memfs at path, replacing any previous content.

Closing the memfs file schedules its upload to every target. With --sync
the command also waits until every target committed it. Use "-" as the
local file to read standard input.

Examples:
  # Copy a checkpoint and let the server upload it in the background
  ckptfs put ./step-1000.pt /ckpt/step-1000.pt

  # Stream from stdin and wait for the upload
  tar c ./shard | ckptfs put - /ckpt/shard.tar --sync`,
	Args: cobra.ExactArgs(2),
	RunE: runPut,
}

var backupCmd = &cobra.Command{
	Use:   "backup <path>",
	Short: "Upload a memfs file to every target now",
	Long: `Upload a memfs file to every target and wait for the commit.

Targets that already hold the current version are skipped unless --force
is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackup,
}

var preloadCmd = &cobra.Command{
	Use:   "preload <path>",
	Short: "Load a file from the targets into memfs",
	Long: `Load a file from the first target that holds it into memfs.

The file is transferred in parallel shards. Without --wait the command
returns once the shards are queued.`,
	Args: cobra.ExactArgs(1),
	RunE: runPreload,
}

var removeCmd = &cobra.Command{
	Use:     "remove <path>",
	Aliases: []string{"rm"},
	Short:   "Remove a file from memfs and every target",
	Args:    cobra.ExactArgs(1),
	RunE:    runRemove,
}

func init() {
	putCmd.Flags().BoolVar(&putSync, "sync", false, "Wait until every target committed the file")
	putCmd.Flags().StringVar(&putMode, "mode", "", "Permission of a created file in octal, e.g. 0644")
	backupCmd.Flags().BoolVar(&backupForce, "force", false, "Upload even when the targets hold this version")
	preloadCmd.Flags().BoolVar(&preloadWait, "wait", false, "Wait until every shard is loaded")
	removeCmd.Flags().BoolVarP(&removeForce, "force", "f", false, "Skip confirmation")
}

// fileFields renders a File as key/value rows.
func fileFields(f *apiclient.File) output.Fields {
	return output.Fields{}.
		Add("Path", f.Path).
		Add("Inode", strconv.FormatUint(f.Inode, 10)).
		Add("Type", f.Type).
		Add("Size", output.Bytes(f.Size)).
		Add("Mode", fmt.Sprintf("%#o", f.Mode)).
		Add("Modified", timeutil.FormatTime(f.Mtime)).
		Add("Writing", output.Bool(f.Writing)).
		Add("Dirty", output.Bool(f.Dirty))
}

func runStat(cmd *cobra.Command, args []string) error {
	f, err := newClient().Stat(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", args[0], err)
	}
	return printResult(f, fileFields(f))
}

func runPut(cmd *cobra.Command, args []string) error {
	var mode uint64
	if putMode != "" {
		var err error
		if mode, err = strconv.ParseUint(putMode, 8, 32); err != nil {
			return fmt.Errorf("invalid --mode %q: must be octal", putMode)
		}
	}

	var src io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer func() { _ = f.Close() }()
		src = f
	}

	// Uploads are bounded by their size, not by the default request timeout.
	res, err := newClient().WithTimeout(0).WriteFile(cmd.Context(), args[1], src, apiclient.WriteOptions{
		Mode: uint32(mode),
		Sync: putSync,
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", args[1], err)
	}

	msg := fmt.Sprintf("Wrote %s to %s", output.Bytes(uint64(res.Written)), res.Path)
	if res.Synced {
		msg += " (committed to every target)"
	}
	printSuccess(msg)
	if format, _ := outputFormat(); format != output.FormatTable {
		return printResult(res, nil)
	}
	return nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	f, err := newClient().WithTimeout(0).Backup(cmd.Context(), args[0], backupForce)
	if err != nil {
		return fmt.Errorf("failed to back up %s: %w", args[0], err)
	}
	printSuccess(fmt.Sprintf("Backed up %s", f.Path))
	return printResult(f, fileFields(f))
}

func runPreload(cmd *cobra.Command, args []string) error {
	client := newClient()
	if preloadWait {
		client = client.WithTimeout(0)
	}
	res, err := client.Preload(cmd.Context(), args[0], preloadWait)
	if err != nil {
		return fmt.Errorf("failed to preload %s: %w", args[0], err)
	}

	fields := output.Fields{}.
		Add("Path", res.Path).
		Add("Shards", strconv.Itoa(res.Shards)).
		Add("Pending", strconv.Itoa(res.Pending)).
		Add("Failed", strconv.FormatUint(uint64(res.Failed), 10)).
		Add("Loaded", output.Bytes(res.Loaded)).
		Add("Complete", output.Bool(res.Complete))
	if err := printResult(res, fields); err != nil {
		return err
	}
	if res.Complete && res.Failed > 0 {
		return fmt.Errorf("%d of %d shards failed", res.Failed, res.Shards)
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Remove %s from memfs and every target", args[0]), removeForce)
	if err != nil {
		if prompt.IsAborted(err) {
			fmt.Println("Aborted.")
			return nil
		}
		return err
	}
	if !ok {
		fmt.Println("Aborted.")
		return nil
	}

	if err := newClient().Remove(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to remove %s: %w", args[0], err)
	}
	printSuccess(fmt.Sprintf("Removed %s", args[0]))
	return nil
}
