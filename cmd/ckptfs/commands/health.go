package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/ckptfs/internal/cli/output"
	"github.com/marmos91/ckptfs/pkg/apiclient"
)

var healthStores bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server readiness",
	Long: `Check whether the server is ready to serve memfs requests.

With --stores every target and the ledger is probed as well. The command
exits non-zero when anything is unhealthy, so it can back a container
health check.`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func init() {
	healthCmd.Flags().BoolVar(&healthStores, "stores", false, "Probe every target and the ledger")
}

// StoreList renders store health as a table.
type StoreList []apiclient.StoreHealth

// Headers implements output.TableRenderer.
func (l StoreList) Headers() []string {
	return []string{"NAME", "TYPE", "STATUS", "LATENCY", "ERROR"}
}

// Rows implements output.TableRenderer.
func (l StoreList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, s := range l {
		rows = append(rows, []string{s.Name, s.Type, s.Status, s.Latency, s.Error})
	}
	return rows
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := newClient()
	if healthStores {
		return runStoresHealth(cmd, client)
	}

	resp, err := client.Ready(cmd.Context())
	if err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) && apiErr.IsUnavailable() {
			return fmt.Errorf("server not ready: %w", err)
		}
		return fmt.Errorf("failed to reach %s: %w", serverURL, err)
	}

	var data map[string]any
	_ = json.Unmarshal(resp.Data, &data)
	fields := output.Fields{}.
		Add("Server", serverURL).
		Add("Status", resp.Status)
	for _, key := range []string{"state", "targets"} {
		if v, ok := data[key]; ok {
			fields = fields.Add(key, fmt.Sprint(v))
		}
	}
	return printResult(resp, fields)
}

func runStoresHealth(cmd *cobra.Command, client *apiclient.Client) error {
	stores, err := client.Stores(cmd.Context())
	if stores == nil {
		return fmt.Errorf("failed to probe stores: %w", err)
	}

	list := StoreList(stores.Targets)
	if stores.Ledger != nil {
		list = append(list, *stores.Ledger)
	}
	if perr := printResult(stores, list); perr != nil {
		return perr
	}
	if err != nil {
		return fmt.Errorf("stores unhealthy: %w", err)
	}
	return nil
}
