package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marladona/trainship/internal/core/plan"
	"github.com/marladona/trainship/internal/shell/logsync"
	"github.com/marladona/trainship/internal/shell/remote"
)

var (
	logsDest string

	fetchLogsCmd = &cobra.Command{
		Use:   "fetch-logs <host> <run-tag>",
		Short: "Download a run's training logs from the remote host",
		Args:  cobra.ExactArgs(2),
		RunE:  runFetchLogs,
	}
)

func init() {
	fetchLogsCmd.Flags().StringVar(&logsDest, "dest", ".", "directory the log folder is written under")
}

func runFetchLogs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := cfg.Validate(); err != nil {
		return &CLIError{Op: "config", Err: err}
	}
	// The GPU device spec plays no part in log retrieval.
	p, err := plan.New(cfg.PlanInputs(), args[0], args[1], "all")
	if err != nil {
		return &CLIError{Op: "plan", Err: err}
	}

	exec, err := remote.NewSSHExecutor(cfg.ExecutorConfig(p.Host))
	if err != nil {
		return &CLIError{Op: "ssh", Err: err}
	}
	defer exec.Close()

	dest, err := logsync.Fetch(ctx, exec, p, cfg.Remote.BaseDir, logsDest, logger)
	if err != nil {
		return &CLIError{Op: "fetch-logs", Err: err}
	}
	fmt.Fprintln(cmd.OutOrStdout(), dest)
	return nil
}
