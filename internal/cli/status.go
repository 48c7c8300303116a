package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haskel/branchsim/internal/server"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a worker node",
	Long: `Query the HTTP status endpoint of a worker node (--host, --port) for its
listening ports, client connections and host load.`,
	RunE: runStatus,
}

const statusTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(statusCmd)
}

func newStatusClient() *server.Client {
	return server.NewClient(GetServerURL(), user, password, statusTimeout)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	resp, err := newStatusClient().Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	if jsonOut {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println("=== Node Status ===")
	fmt.Printf("\nVersion:   %s (up %s)\n", resp.Version, resp.Uptime)
	fmt.Printf("Listening: %v\n", resp.Listening)
	fmt.Printf("Workers:   %d per connection\n", resp.Workers)

	host := resp.Host
	fmt.Printf("\nCPU:\n")
	fmt.Printf("  Usage: %.1f%% of %d cores\n", host.CPU.UsagePercent, host.CPU.LogicalCores)
	fmt.Printf("  Load:  %.2f %.2f %.2f (%d running)\n", host.Load.Load1, host.Load.Load5, host.Load.Load15, host.Load.ProcsRunning)

	fmt.Printf("\nMemory:\n")
	fmt.Printf("  Usage:     %.1f%%\n", host.Memory.UsagePercent)
	fmt.Printf("  Available: %.1f GB of %.1f GB\n", gigabytes(host.Memory.AvailableBytes), gigabytes(host.Memory.TotalBytes))

	if host.Traces.TotalBytes > 0 {
		fmt.Printf("\nTraces (%s):\n", host.Traces.Path)
		fmt.Printf("  %.1f GB free / %.1f GB total\n", gigabytes(host.Traces.FreeBytes), gigabytes(host.Traces.TotalBytes))
	}

	fmt.Printf("\nConnections: %d\n", len(resp.Connections))
	for _, c := range resp.Connections {
		fmt.Printf("  %s (%s): session %d, %d/%d busy, %d buffered, %d executed, since %s\n",
			c.Client, c.Remote, c.SessionID, c.Busy, c.Workers, c.Buffered, c.Executed,
			c.Since.Local().Format(time.TimeOnly))
	}

	return nil
}

func gigabytes(b uint64) float64 {
	return float64(b) / 1024 / 1024 / 1024
}
