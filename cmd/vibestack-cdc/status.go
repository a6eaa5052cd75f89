package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vibestack/cdc-core/internal/adminclient"
)

var statusAPIAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show replication state and lag",
	Long:  `Status reports the replication actor's lifecycle state, LSN position, and lag from a running instance's admin API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := adminclient.New(statusAPIAddr)
		status, err := client.Status()
		if err != nil {
			return fmt.Errorf("fetch status from %s: %w", statusAPIAddr, err)
		}

		fmt.Printf("State:          %s\n", status.State)
		fmt.Printf("Slot:           %s (%s)\n", status.Slot.Name, status.Slot.Status)
		fmt.Printf("Confirmed LSN:  %s\n", status.Metrics.ConfirmedLSN)
		fmt.Printf("Latest LSN:     %s\n", status.Metrics.LatestLSN)
		fmt.Printf("Lag:            %s\n", status.Metrics.LagFormatted)
		fmt.Printf("Polls:          %d\n", status.Metrics.PollCount)
		fmt.Printf("Throughput:     %.0f changes/s (%d total)\n", status.Metrics.ChangesPerSec, status.Metrics.TotalChanges)
		fmt.Printf("Active clients: %d\n", status.Metrics.ActiveClients)

		if status.Metrics.ErrorCount > 0 {
			fmt.Printf("Errors:         %d (last: %s)\n", status.Metrics.ErrorCount, status.Metrics.LastError)
		}

		if len(status.Metrics.FilterReasons) > 0 {
			fmt.Println("\nFiltered changes:")
			for reason, count := range status.Metrics.FilterReasons {
				fmt.Printf("  %-30s %d\n", reason, count)
			}
		}

		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAPIAddr, "api-addr", "http://localhost:7654", "Address of the running vibestack-cdc admin API")
	rootCmd.AddCommand(statusCmd)
}
