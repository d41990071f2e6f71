package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/marladona/trainship/internal/core/plan"
	"github.com/marladona/trainship/internal/shell/deploy"
	"github.com/marladona/trainship/internal/shell/docker"
	"github.com/marladona/trainship/internal/shell/history"
	"github.com/marladona/trainship/internal/shell/remote"
)

var deployCmd = &cobra.Command{
	Use:   "deploy <host> <run-tag> [gpu-devices]",
	Short: "Package the local training setup and start it on a remote GPU host",
	Long: `deploy commits the running training container, archives the image and
the project tree, ships both to the target host over SSH, and starts the
training container there. If the image for this host and run tag already
exists remotely, the image upload is skipped and the remote copy is reused.

The run tag is an 8-digit date stamp (e.g. 20260107). The GPU device
argument is passed to docker --gpus on the remote host, e.g. 'all' or
'"device=3,4"'; it defaults to all.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runDeploy,
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := cfg.Validate(); err != nil {
		return &CLIError{Op: "config", Err: err}
	}
	deviceSpec := "all"
	if len(args) == 3 {
		deviceSpec = args[2]
	}
	p, err := plan.New(cfg.PlanInputs(), args[0], args[1], deviceSpec)
	if err != nil {
		return &CLIError{Op: "plan", Err: err}
	}
	if err := plan.CheckTools(cfg.Tools.Required); err != nil {
		return &CLIError{Op: "plan", Err: err}
	}

	engine, err := docker.NewEngine(cfg.Docker.Host)
	if err != nil {
		return &CLIError{Op: "docker", Err: err}
	}
	defer engine.Close()

	exec, err := remote.NewSSHExecutor(cfg.ExecutorConfig(p.Host))
	if err != nil {
		return &CLIError{Op: "ssh", Err: err}
	}
	defer exec.Close()

	store, err := history.Open(cfg.History.DSN)
	if err != nil {
		return &CLIError{Op: "history", Err: err}
	}
	defer store.Close()

	rec := history.Record{
		ID:            uuid.NewString(),
		Host:          p.Host,
		RunTag:        p.RunTag,
		ImageRef:      p.ImageRef,
		ContainerName: p.ContainerName,
		Mode:          plan.ModeUploadFresh.String(),
		StartedAt:     time.Now().UTC(),
	}
	if err := store.Begin(ctx, rec); err != nil {
		logger.Warn("could not record deployment start", "error", err)
	}

	logger.Info("starting deployment",
		"host", p.Host,
		"run_tag", p.RunTag,
		"image_ref", p.ImageRef,
		"container", p.ContainerName,
	)

	mode, runErr := deploy.New(engine, exec, cfg.DeployConfig(), logger).Run(ctx, p)

	status := history.StatusSucceeded
	errText := ""
	if runErr != nil {
		status = history.StatusFailed
		errText = runErr.Error()
	}
	// Record the outcome even when the run was cancelled.
	finishCtx := context.WithoutCancel(ctx)
	if err := store.Finish(finishCtx, rec.ID, mode.String(), status, errText, time.Now().UTC()); err != nil {
		logger.Warn("could not record deployment result", "error", err)
	}

	if runErr != nil {
		return &CLIError{Op: "deploy", Err: runErr}
	}
	logger.Info("deployment finished",
		"host", p.Host,
		"container", p.ContainerName,
		"mode", mode.String(),
	)
	return nil
}
