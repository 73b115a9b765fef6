package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// healthReport mirrors the subset of health.Handler's JSON body this
// command needs; it deliberately doesn't import internal/health to
// avoid pulling in the upstream/store packages for a one-shot CLI.
type healthReport struct {
	Status string `json:"status"`
}

func newHealthcheckCmd() *cobra.Command {
	var addr string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe a running aggregator's /health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := &http.Client{Timeout: timeout}
			resp, err := client.Get("http://" + addr + "/health")
			if err != nil {
				return fmt.Errorf("1mcp: unhealthy: %w", err)
			}
			defer resp.Body.Close()

			var report healthReport
			if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
				return fmt.Errorf("1mcp: unhealthy: decoding response: %w", err)
			}
			if resp.StatusCode != http.StatusOK || report.Status != "ok" {
				return fmt.Errorf("1mcp: unhealthy: status=%s http=%d", report.Status, resp.StatusCode)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:3000", "aggregator listen address to probe")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}
