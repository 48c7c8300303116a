package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haskel/branchsim/internal/config"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running worker node",
	Long: `Stop the worker node started with "serve" by sending SIGTERM to the process
in the PID file, then wait for it to exit.`,
	RunE: runStop,
}

var (
	pidFile     string
	stopTimeout time.Duration
)

func init() {
	stopCmd.Flags().StringVar(&pidFile, "pid-file", "", "PID file path (overrides config)")
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 10*time.Second, "how long to wait for the node to exit, 0 does not wait")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := pidFile
	if pidPath == "" {
		pidPath = config.LoadOrDefault(cfgFile).Server.PIDFile
	}
	if pidPath == "" {
		return fmt.Errorf("no PID file specified (use --pid-file or configure server.pid_file)")
	}

	pid, err := readPIDFile(pidPath)
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("process not found: %d", pid)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			// the node died without cleaning up
			os.Remove(pidPath)
			return fmt.Errorf("process %d is not running, removed stale PID file %s", pid, pidPath)
		}
		return fmt.Errorf("failed to send signal: %w", err)
	}

	stopped := stopTimeout <= 0 || waitForExit(process, stopTimeout)

	if jsonOut {
		fmt.Printf(`{"pid":%d,"signalled":true,"stopped":%t}`+"\n", pid, stopped)
	} else if stopped {
		fmt.Printf("Stopped process %d\n", pid)
	} else {
		fmt.Printf("Sent SIGTERM to process %d, still running after %s\n", pid, stopTimeout)
	}

	if !stopped {
		return fmt.Errorf("process %d did not exit within %s", pid, stopTimeout)
	}
	return nil
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("PID file not found: %s (node may not be running)", path)
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid < 1 {
		return 0, fmt.Errorf("invalid PID in file: %q", pidStr)
	}
	return pid, nil
}

// waitForExit polls with signal 0 until the process is gone.
func waitForExit(process *os.Process, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := process.Signal(syscall.Signal(0)); err != nil {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}
