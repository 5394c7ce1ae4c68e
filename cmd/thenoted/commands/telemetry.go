package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/spf13/cobra"
)

var telemetryAddr string

var telemetryCmd = &cobra.Command{
	Use:   "telemetry",
	Short: "Dump counters and timers from a running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(telemetryAddr + "/telemetry")
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("telemetry: unexpected status %s", resp.Status)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}

		var snap map[string]float64
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("telemetry: parse response: %w", err)
		}
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "%-48s %g\n", k, snap[k])
		}
		return nil
	},
}

func init() {
	telemetryCmd.Flags().StringVar(&telemetryAddr, "addr", "http://localhost:8080", "base URL of the running daemon")
	rootCmd.AddCommand(telemetryCmd)
}
