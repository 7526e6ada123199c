package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running gateway",
	Long: `Stop a running pharmagate server by reading its PID file and sending SIGTERM.

The PID file is located at ~/.pharmagate/server.pid.`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := pidFilePath()

	pid := readPIDFile(pidPath)
	if pid == 0 {
		return fmt.Errorf("no server PID file found at %s\nIs the gateway running?", pidPath)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		_ = os.Remove(pidPath)
		return fmt.Errorf("invalid PID %d: %w", pid, err)
	}
	if !processIsAlive(proc) {
		_ = os.Remove(pidPath)
		return fmt.Errorf("gateway process %d is not running (stale PID file removed)", pid)
	}

	fmt.Fprintf(os.Stderr, "Stopping pharmagate (PID %d)...\n", pid)
	if err := sendGracefulStop(proc); err != nil {
		return fmt.Errorf("failed to stop gateway: %w", err)
	}

	// The server drains for up to 10s; poll a little longer than that.
	for i := 0; i < 60; i++ {
		time.Sleep(200 * time.Millisecond)
		if !processIsAlive(proc) {
			_ = os.Remove(pidPath)
			fmt.Fprintf(os.Stderr, "Gateway stopped.\n")
			return nil
		}
	}

	fmt.Fprintf(os.Stderr, "Gateway did not stop gracefully, killing it...\n")
	_ = proc.Kill()
	_ = os.Remove(pidPath)
	return nil
}
