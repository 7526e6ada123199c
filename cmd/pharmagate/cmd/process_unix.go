//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// gracefulSignals are SIGINT (Ctrl+C) and SIGTERM (kill, container stop).
func gracefulSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// processIsAlive sends signal 0 to the process.
func processIsAlive(proc *os.Process) bool {
	return proc.Signal(syscall.Signal(0)) == nil
}

func sendGracefulStop(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
