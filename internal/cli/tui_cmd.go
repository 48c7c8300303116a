package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/haskel/branchsim/internal/cli/tui"
)

var (
	refreshInterval time.Duration
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive node dashboard",
	Long: `Launch an interactive terminal dashboard showing the host load and
connected clients of a worker node, read from its status server.

Examples:
  branchsim tui                    # Watch the local node
  branchsim tui --refresh 500ms    # Faster refresh rate
  branchsim tui --host 10.0.0.1    # Watch a remote node`,
	RunE: runTUI,
}

func init() {
	tuiCmd.Flags().DurationVar(&refreshInterval, "refresh", time.Second, "dashboard refresh interval")
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	return tui.RunDashboard(tui.DashboardConfig{
		ServerURL:       GetServerURL(),
		RefreshInterval: refreshInterval,
		User:            user,
		Password:        password,
	})
}
