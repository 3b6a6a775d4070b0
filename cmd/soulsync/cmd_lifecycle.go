package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var errNotRunning = errors.New("daemon is not running")

func init() {
	rootCmd.AddCommand(
		signalCmd("stop", "Stop the running daemon, ending open sessions", syscall.SIGTERM),
		signalCmd("restart", "Restart the running daemon, ending open sessions", syscall.SIGHUP),
		statusCmd,
	)
}

// daemon returns the process named in the PID file after probing it with
// signal 0.
func daemon(dataDir string) (*os.Process, error) {
	data, err := os.ReadFile(pidPath(dataDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errNotRunning
	}
	if err != nil {
		return nil, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return nil, fmt.Errorf("corrupt PID file %s", pidPath(dataDir))
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("find process %d: %w", pid, err)
	}
	if proc.Signal(syscall.Signal(0)) != nil {
		return nil, fmt.Errorf("%w (stale PID %d)", errNotRunning, pid)
	}
	return proc, nil
}

func signalCmd(use, short string, sig syscall.Signal) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			proc, err := daemon(loadConfig().DataDir)
			if err != nil {
				return err
			}
			if err := proc.Signal(sig); err != nil {
				return fmt.Errorf("send %s to %d: %w", sig, proc.Pid, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to daemon (PID %d).\n", sig, proc.Pid)
			return nil
		},
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the daemon is running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		proc, err := daemon(loadConfig().DataDir)
		if errors.Is(err, errNotRunning) {
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Daemon is running (PID %d).\n", proc.Pid)
		return nil
	},
}
