package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/ckptfs/internal/cli/output"
	"github.com/marmos91/ckptfs/internal/cli/timeutil"
	"github.com/marmos91/ckptfs/pkg/apiclient"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the memfs state, block usage and backup pool counters of the
server selected with --server.

Examples:
  # Check status of the local server
  ckptfs status

  # Output as JSON
  ckptfs status -o json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	status, err := newClient().Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get status from %s: %w", serverURL, err)
	}
	return printResult(status, statusFields(status))
}

// statusFields renders a Status as key/value rows.
func statusFields(s *apiclient.Status) output.Fields {
	state := s.State
	if s.State != "RUNNING" {
		state = fmt.Sprintf("%s (%d%%)", s.State, s.Progress)
	}
	used := s.UsedBlocks * s.BlockSize

	f := output.Fields{}.
		Add("Server", serverURL).
		Add("State", state).
		Add("Serviceable", output.Bool(s.Serviceable)).
		Add("Suspended", output.Bool(s.Suspended)).
		Add("Block size", output.Bytes(s.BlockSize)).
		Add("Blocks", fmt.Sprintf("%d used / %d total", s.UsedBlocks, s.BlockCount)).
		Add("Memory", fmt.Sprintf("%s / %s", output.Bytes(used), output.Bytes(s.BlockCount*s.BlockSize))).
		Add("Open files", fmt.Sprint(s.OpenFiles)).
		Add("Pool", s.Pool.Name).
		Add("Pending", fmt.Sprint(s.Pool.Pending)).
		Add("Succeeded", fmt.Sprint(s.Pool.Succeeded)).
		Add("Retried", fmt.Sprint(s.Pool.Retried)).
		Add("Failing", fmt.Sprint(s.Pool.Failing)).
		Add("Discarded", fmt.Sprint(s.Pool.Discarded))
	if s.Pool.Alarm {
		f = f.Add("Alarm", s.Pool.CCAEPath)
	}
	return f.
		Add("Started", timeutil.FormatTime(s.StartedAt)).
		Add("Uptime", timeutil.FormatUptime(time.Duration(s.UptimeSec)*time.Second))
}
