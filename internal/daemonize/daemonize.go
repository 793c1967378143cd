//go:build linux

// Package daemonize detaches the resource-holding process into the
// background. Go cannot fork, so the command re-executes itself with a
// marker in the environment; the child starts its own session and writes
// everything to the log file.
package daemonize

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

const envMarker = "DOWNSIZE_DAEMON"

// IsDaemon reports whether this process is the re-executed background
// instance.
func IsDaemon() bool {
	return os.Getenv(envMarker) == "1"
}

// Spawn starts a detached copy of the current command with the same
// arguments, its output appended to logPath. It returns the child pid.
func Spawn(logPath string) (int, error) {
	logf, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logf.Close()

	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("locating executable: %w", err)
	}
	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), envMarker+"=1")
	cmd.Stdin = nil
	cmd.Stdout = logf
	cmd.Stderr = logf
	// Detach from the caller's session so the daemon survives it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting background process: %w", err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return pid, nil
}
