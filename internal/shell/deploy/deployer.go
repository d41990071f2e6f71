// Package deploy sequences a full deployment run: presence check, remote
// state preparation, local packaging, transfer, and remote install. It talks
// to the local daemon through the Engine interface and to the target host
// through the remote executor, so tests can drive it with mocks.
package deploy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/marladona/trainship/internal/core/plan"
	"github.com/marladona/trainship/internal/core/remotecmd"
	"github.com/marladona/trainship/internal/shell/remote"
	"github.com/marladona/trainship/internal/shell/workspace"
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Engine is the subset of local Docker operations the packager needs.
type Engine interface {
	Ping(ctx context.Context) error
	FindRunningContainer(ctx context.Context, name string) (string, error)
	CommitContainer(ctx context.Context, containerID, imageRef string) error
	SaveImage(ctx context.Context, imageRef string, w io.Writer) error
	RemoveImage(ctx context.Context, imageRef string) error
}

// =============================================================================
// Deployer
// =============================================================================

// Config holds the deployment paths and the local source container name.
type Config struct {
	LocalProjectPath string // local project tree to package
	LocalTmpDir      string // root for the scoped workspace
	RemoteBaseDir    string // remote landing directory; resolved against the remote home when relative
	RemoteCacheDir   string // remote Isaac Sim cache root; same resolution rule
	SourceContainer  string // name of the running local training container
	ProjectMountPath string // fixed in-container path the project is bound to
}

// Deployer performs one local-then-remote deployment round trip.
type Deployer struct {
	engine Engine
	exec   remote.Executor
	cfg    Config
	logger *slog.Logger
}

// New creates a deployer.
func New(engine Engine, exec remote.Executor, cfg Config, logger *slog.Logger) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{
		engine: engine,
		exec:   exec,
		cfg:    cfg,
		logger: logger,
	}
}

// Run executes the whole deployment for the given plan and returns the
// upload mode that was decided. The mode is computed exactly once from the
// remote presence check and threaded to every later step unchanged.
//
// Remote state is not rolled back on mid-install failure: uploaded archives
// stay in place and the run is safe to re-execute (at-least-once semantics).
// The local workspace is removed on every exit path.
func (d *Deployer) Run(ctx context.Context, p plan.Plan) (plan.Mode, error) {
	mode := plan.ModeUploadFresh

	if err := d.preflight(ctx); err != nil {
		return mode, err
	}

	baseDir, cacheDir, err := d.resolveRemoteDirs(ctx)
	if err != nil {
		return mode, err
	}

	mode, err = d.checkRemoteImage(ctx, p)
	if err != nil {
		return mode, err
	}
	d.logger.Info("upload decision",
		"mode", mode.String(),
		"image_ref", p.ImageRef,
	)

	if err := d.prepareRemote(ctx, p, baseDir, mode); err != nil {
		return mode, err
	}

	ws, err := workspace.New(d.cfg.LocalTmpDir, d.logger)
	if err != nil {
		return mode, fmt.Errorf("create workspace: %w", err)
	}
	defer ws.Close()

	if err := d.packageLocal(ctx, p, ws, mode); err != nil {
		return mode, err
	}
	if err := d.transfer(ctx, p, ws, baseDir, mode); err != nil {
		return mode, err
	}
	if err := d.install(ctx, p, baseDir, cacheDir, mode); err != nil {
		return mode, err
	}

	// The committed snapshot served its purpose once uploaded; dropping it
	// keeps the local cache small. Best-effort only.
	if mode.UploadRequired() {
		if err := d.engine.RemoveImage(ctx, p.ImageRef); err != nil {
			d.logger.Info("keeping local snapshot image", "image_ref", p.ImageRef, "reason", err)
		}
	}

	d.logger.Info("deployment complete",
		"host", p.Host,
		"container", p.ContainerName,
		"image_ref", p.ImageRef,
		"mode", mode.String(),
	)
	return mode, nil
}

// =============================================================================
// Steps
// =============================================================================

// preflight verifies local preconditions before any remote action.
func (d *Deployer) preflight(ctx context.Context) error {
	if err := d.engine.Ping(ctx); err != nil {
		return fmt.Errorf("local docker daemon: %w", err)
	}
	info, err := os.Stat(d.cfg.LocalProjectPath)
	if err != nil {
		return fmt.Errorf("local project path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("local project path %s is not a directory", d.cfg.LocalProjectPath)
	}
	return nil
}

// resolveRemoteDirs resolves the configured remote directories against the
// remote home when they are relative. Queried once per run.
func (d *Deployer) resolveRemoteDirs(ctx context.Context) (string, string, error) {
	baseDir := d.cfg.RemoteBaseDir
	cacheDir := d.cfg.RemoteCacheDir
	if strings.HasPrefix(baseDir, "/") && strings.HasPrefix(cacheDir, "/") {
		return baseDir, cacheDir, nil
	}

	home, err := remote.ResolveHomeDir(ctx, d.exec)
	if err != nil {
		return "", "", fmt.Errorf("resolve remote home: %w", err)
	}

	if !strings.HasPrefix(baseDir, "/") {
		baseDir = home + "/" + baseDir
	}
	if !strings.HasPrefix(cacheDir, "/") {
		cacheDir = home + "/" + cacheDir
	}
	return baseDir, cacheDir, nil
}

// checkRemoteImage asks the remote image cache whether the plan's image
// reference already exists. Read-only; this single query gates every
// build/upload step that follows.
func (d *Deployer) checkRemoteImage(ctx context.Context, p plan.Plan) (plan.Mode, error) {
	out, err := d.exec.Run(ctx, remotecmd.ListImages())
	if err != nil {
		return plan.ModeUploadFresh, fmt.Errorf("remote image presence check: %w", err)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == p.ImageRef {
			return plan.ModeReuseExisting, nil
		}
	}
	return plan.ModeUploadFresh, nil
}

// prepareRemote clears stale remote state so the transfer lands clean.
// Absence of any target is not an error; the whole step is re-runnable.
func (d *Deployer) prepareRemote(ctx context.Context, p plan.Plan, baseDir string, mode plan.Mode) error {
	projectDir := baseDir + "/" + p.ProjectDirName
	if _, err := d.exec.Run(ctx, remotecmd.RemoveDir(projectDir)); err != nil {
		return fmt.Errorf("remove stale project dir: %w", err)
	}
	d.logger.Info("cleared remote project dir", "path", projectDir)

	if mode.UploadRequired() {
		imageArchive := baseDir + "/" + p.ImageArchiveName
		if _, err := d.exec.Run(ctx, remotecmd.RemoveFile(imageArchive)); err != nil {
			return fmt.Errorf("remove stale image archive: %w", err)
		}
		d.logger.Info("cleared remote image archive", "path", imageArchive)
	}

	projectArchive := baseDir + "/" + p.ProjectArchiveName
	if _, err := d.exec.Run(ctx, remotecmd.RemoveFile(projectArchive)); err != nil {
		return fmt.Errorf("remove stale project archive: %w", err)
	}
	d.logger.Info("cleared remote project archive", "path", projectArchive)
	return nil
}

// packageLocal snapshots the running container (upload mode only) and always
// archives the project tree into the workspace.
func (d *Deployer) packageLocal(ctx context.Context, p plan.Plan, ws *workspace.Workspace, mode plan.Mode) error {
	if mode.UploadRequired() {
		containerID, err := d.engine.FindRunningContainer(ctx, d.cfg.SourceContainer)
		if err != nil {
			return fmt.Errorf("locate source container: %w", err)
		}
		d.logger.Info("committing container", "container", d.cfg.SourceContainer, "image_ref", p.ImageRef)
		if err := d.engine.CommitContainer(ctx, containerID, p.ImageRef); err != nil {
			return fmt.Errorf("commit container: %w", err)
		}

		archive, err := os.Create(ws.Path(p.ImageArchiveName))
		if err != nil {
			return fmt.Errorf("create image archive: %w", err)
		}
		d.logger.Info("saving image", "image_ref", p.ImageRef, "path", archive.Name())
		if err := d.engine.SaveImage(ctx, p.ImageRef, archive); err != nil {
			archive.Close()
			return fmt.Errorf("save image: %w", err)
		}
		if err := archive.Close(); err != nil {
			return fmt.Errorf("save image: %w", err)
		}
	}

	d.logger.Info("archiving project", "path", d.cfg.LocalProjectPath)
	if err := workspace.ArchiveDir(d.cfg.LocalProjectPath, ws.Path(p.ProjectArchiveName)); err != nil {
		return fmt.Errorf("archive project: %w", err)
	}
	return nil
}

// transfer ships the archives, image first. A failed image push aborts
// before the project push is attempted.
func (d *Deployer) transfer(ctx context.Context, p plan.Plan, ws *workspace.Workspace, baseDir string, mode plan.Mode) error {
	if mode.UploadRequired() {
		if err := d.pushFile(ctx, ws.Path(p.ImageArchiveName), baseDir+"/"+p.ImageArchiveName); err != nil {
			return fmt.Errorf("transfer image archive: %w", err)
		}
	}
	if err := d.pushFile(ctx, ws.Path(p.ProjectArchiveName), baseDir+"/"+p.ProjectArchiveName); err != nil {
		return fmt.Errorf("transfer project archive: %w", err)
	}
	return nil
}

func (d *Deployer) pushFile(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	d.logger.Info("transferring", "local", localPath, "remote", remotePath, "bytes", info.Size())
	return d.exec.Push(ctx, f, remotePath)
}

// install runs the single remote command batch that replaces the container.
func (d *Deployer) install(ctx context.Context, p plan.Plan, baseDir, cacheDir string, mode plan.Mode) error {
	script := remotecmd.InstallScript(remotecmd.InstallParams{
		BaseDir:            baseDir,
		CacheDir:           cacheDir,
		ImageRef:           p.ImageRef,
		ContainerName:      p.ContainerName,
		DeviceSpec:         p.DeviceSpec,
		ProjectDirName:     p.ProjectDirName,
		ProjectArchiveName: p.ProjectArchiveName,
		ImageArchiveName:   p.ImageArchiveName,
		ProjectMountPath:   d.cfg.ProjectMountPath,
	}, mode)

	d.logger.Info("installing", "container", p.ContainerName, "gpus", p.DeviceSpec)
	if _, err := d.exec.Run(ctx, script); err != nil {
		return fmt.Errorf("remote install: %w", err)
	}
	return nil
}
