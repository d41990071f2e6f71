// Package docker wraps the local Docker daemon operations the packager
// needs: locating the running training container, committing it to the
// run's image reference, and serializing that image to an archive.
package docker

import (
	"context"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// =============================================================================
// Engine
// =============================================================================

// Engine is the local Docker client used by the packager.
type Engine struct {
	cli *client.Client
}

// NewEngine creates a client against the local daemon. If host is empty, the
// default Docker host from the environment is used.
func NewEngine(host string) (*Engine, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewEngineError("NewEngine", "", "failed to create client", ErrConnectionFailed)
	}
	return &Engine{cli: cli}, nil
}

// Ping checks if the local Docker daemon is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	if _, err := e.cli.Ping(ctx); err != nil {
		return NewEngineError("Ping", "", err.Error(), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (e *Engine) Close() error {
	return e.cli.Close()
}

// =============================================================================
// Packager Operations
// =============================================================================

// FindRunningContainer returns the ID of the running container with exactly
// the given name. A stopped or absent container is a precondition failure.
func (e *Engine) FindRunningContainer(ctx context.Context, name string) (string, error) {
	f := filters.NewArgs()
	f.Add("name", "^/"+name+"$")
	f.Add("status", "running")

	containers, err := e.cli.ContainerList(ctx, container.ListOptions{Filters: f})
	if err != nil {
		return "", NewEngineError("FindRunningContainer", name, err.Error(), err)
	}
	if len(containers) == 0 {
		return "", NewEngineError("FindRunningContainer", name, "no running container with this name", ErrContainerNotRunning)
	}
	return containers[0].ID, nil
}

// CommitContainer snapshots a running container into a new image tagged with
// the given reference.
func (e *Engine) CommitContainer(ctx context.Context, containerID, imageRef string) error {
	_, err := e.cli.ContainerCommit(ctx, containerID, container.CommitOptions{
		Reference: imageRef,
		Pause:     true,
	})
	if err != nil {
		return NewEngineError("CommitContainer", imageRef, err.Error(), err)
	}
	return nil
}

// SaveImage serializes an image reference into w in `docker save` format.
func (e *Engine) SaveImage(ctx context.Context, imageRef string, w io.Writer) error {
	reader, err := e.cli.ImageSave(ctx, []string{imageRef})
	if err != nil {
		return NewEngineError("SaveImage", imageRef, err.Error(), err)
	}
	defer reader.Close()

	if _, err := io.Copy(w, reader); err != nil {
		return NewEngineError("SaveImage", imageRef, err.Error(), err)
	}
	return nil
}

// RemoveImage untags an image reference. Used to drop the committed snapshot
// from the local cache after a successful upload; failures are best-effort.
func (e *Engine) RemoveImage(ctx context.Context, imageRef string) error {
	_, err := e.cli.ImageRemove(ctx, imageRef, image.RemoveOptions{PruneChildren: true})
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewEngineError("RemoveImage", imageRef, "image not found", ErrImageNotFound)
		}
		return NewEngineError("RemoveImage", imageRef, err.Error(), err)
	}
	return nil
}
