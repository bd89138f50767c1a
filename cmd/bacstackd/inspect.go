package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/bacterium-io/mstpstack/internal/cliout"
	"github.com/bacterium-io/mstpstack/pkg/binding"
)

var inspectAddr string

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print a running bacstackd instance's state as tables",
}

var inspectBindingsCmd = &cobra.Command{
	Use:   "bindings",
	Short: "List the address binding cache",
	RunE:  runInspectBindings,
}

var inspectTSMCmd = &cobra.Command{
	Use:   "tsm",
	Short: "Summarize pending TSM transactions",
	RunE:  runInspectTSM,
}

func init() {
	inspectCmd.PersistentFlags().StringVar(&inspectAddr, "addr", "http://127.0.0.1:9090", "management API base address")
	inspectCmd.AddCommand(inspectBindingsCmd)
	inspectCmd.AddCommand(inspectTSMCmd)
}

func getJSON(url string, out any) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inspect: %s: unexpected status %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runInspectBindings(cmd *cobra.Command, args []string) error {
	var entries []binding.Entry
	if err := getJSON(inspectAddr+"/bindings/", &entries); err != nil {
		return err
	}

	table := cliout.NewTableData("DEVICE INSTANCE", "NET", "MAC", "MAX APDU", "TTL (s)", "BOUND")
	for _, e := range entries {
		table.AddRow(
			strconv.FormatUint(uint64(e.DeviceInstance), 10),
			strconv.FormatUint(uint64(e.Address.Net), 10),
			fmt.Sprintf("%v", e.Address.MAC),
			strconv.FormatUint(uint64(e.MaxAPDU), 10),
			strconv.FormatUint(uint64(e.TTLSeconds), 10),
			strconv.FormatBool(e.Bound),
		)
	}
	cliout.PrintTable(cmd.OutOrStdout(), table)
	return nil
}

func runInspectTSM(cmd *cobra.Command, args []string) error {
	var summary struct {
		Active int `json:"active_transactions"`
	}
	if err := getJSON(inspectAddr+"/tsm/", &summary); err != nil {
		return err
	}
	cliout.SimpleTable(cmd.OutOrStdout(), [][2]string{
		{"Active transactions", strconv.Itoa(summary.Active)},
	})
	return nil
}
