package deploy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marladona/trainship/internal/core/plan"
	"github.com/marladona/trainship/internal/core/remotecmd"
	"github.com/marladona/trainship/internal/shell/remote"
)

// Cleanup removes the remote container/image pair named by the plan. It uses
// the same naming rules as Run, so it can always undo what a deployment with
// the same (host, run tag) created.
func Cleanup(ctx context.Context, exec remote.Executor, p plan.Plan, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := exec.Run(ctx, remotecmd.RemoveContainer(p.ContainerName)); err != nil {
		return fmt.Errorf("remove remote container: %w", err)
	}
	logger.Info("removed remote container", "container", p.ContainerName)

	if _, err := exec.Run(ctx, remotecmd.RemoveImage(p.ImageRef)); err != nil {
		return fmt.Errorf("remove remote image: %w", err)
	}
	logger.Info("removed remote image", "image_ref", p.ImageRef)
	return nil
}
