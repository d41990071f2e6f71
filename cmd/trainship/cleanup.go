package main

import (
	"github.com/spf13/cobra"

	"github.com/marladona/trainship/internal/core/plan"
	"github.com/marladona/trainship/internal/shell/deploy"
	"github.com/marladona/trainship/internal/shell/remote"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <host> <run-tag>",
	Short: "Remove a run's container and image from the remote host",
	Args:  cobra.ExactArgs(2),
	RunE:  runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := cfg.Validate(); err != nil {
		return &CLIError{Op: "config", Err: err}
	}
	p, err := plan.New(cfg.PlanInputs(), args[0], args[1], "all")
	if err != nil {
		return &CLIError{Op: "plan", Err: err}
	}

	exec, err := remote.NewSSHExecutor(cfg.ExecutorConfig(p.Host))
	if err != nil {
		return &CLIError{Op: "ssh", Err: err}
	}
	defer exec.Close()

	if err := deploy.Cleanup(ctx, exec, p, logger); err != nil {
		return &CLIError{Op: "cleanup", Err: err}
	}
	return nil
}
