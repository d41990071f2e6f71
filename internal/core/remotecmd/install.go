package remotecmd

import (
	"fmt"
	"strings"

	"github.com/marladona/trainship/internal/core/plan"
)

// =============================================================================
// Install Batch
// =============================================================================

// InstallParams parameterizes the remote install batch. All paths must be
// absolute; relative config values are resolved against the remote home
// before this point.
type InstallParams struct {
	BaseDir  string // remote landing directory for archives and project trees
	CacheDir string // remote Isaac Sim cache root for the volume mounts

	ImageRef      string
	ContainerName string
	DeviceSpec    string

	ProjectDirName     string // canonical run-tagged project directory name
	ProjectArchiveName string
	ImageArchiveName   string
	ProjectMountPath   string // fixed in-container path the project is bound to
}

// cacheMounts maps the fixed cache subdirectories (relative to CacheDir) to
// their in-container paths. These are the standard Isaac Sim cache locations;
// the launched container reuses them across deployment epochs.
var cacheMounts = []struct {
	sub    string
	target string
}{
	{"cache/kit", "/isaac-sim/kit/cache"},
	{"cache/ov", "/root/.cache/ov"},
	{"cache/pip", "/root/.cache/pip"},
	{"cache/glcache", "/root/.cache/nvidia/GLCache"},
	{"cache/computecache", "/root/.nv/ComputeCache"},
	{"logs", "/root/.nvidia-omniverse/logs"},
	{"data", "/root/.local/share/ov/data"},
	{"documents", "/root/Documents"},
}

// InstallScript renders the whole remote install as one command batch, in
// this order: replace any same-named container, load or verify the image,
// replace the extracted project directory (renaming the archive's top-level
// directory to the canonical name when they differ), ensure the cache
// subdirectories, launch the new container, and delete the consumed archives.
//
// The batch runs under `set -eu`, so the first failing step aborts the rest.
// A missing image archive in upload mode, or a missing cached image in reuse
// mode, is fatal by design: the operator re-runs the deployment.
func InstallScript(p InstallParams, mode plan.Mode) Command {
	imageArchive := p.BaseDir + "/" + p.ImageArchiveName
	projectArchive := p.BaseDir + "/" + p.ProjectArchiveName
	projectDir := p.BaseDir + "/" + p.ProjectDirName

	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	line("set -eu")

	// 1. At most one container may carry the target name.
	line("if [ -n \"$(docker ps -aq -f %s)\" ]; then docker rm -f %s; fi",
		Quote("name=^"+p.ContainerName+"$"), Quote(p.ContainerName))

	// 2. Image: load the shipped archive, or verify the cached reference.
	if mode.UploadRequired() {
		line("[ -f %s ] || { echo 'image archive missing: %s' >&2; exit 1; }",
			Quote(imageArchive), imageArchive)
		line("docker load -i %s", Quote(imageArchive))
	} else {
		line("docker image inspect %s >/dev/null 2>&1 || { echo 'expected image not cached: %s' >&2; exit 1; }",
			Quote(p.ImageRef), p.ImageRef)
	}

	// 3-4. Replace the extracted project tree under its canonical name.
	line("rm -rf %s", Quote(projectDir))
	line("top=$(tar -tzf %s | head -1 | cut -d/ -f1)", Quote(projectArchive))
	line("tar -xzf %s -C %s", Quote(projectArchive), Quote(p.BaseDir))
	line("if [ \"$top\" != %s ]; then mv %s %s; fi",
		Quote(p.ProjectDirName), Quote(p.BaseDir)+`/"$top"`, Quote(projectDir))

	// 5. Cache layout the mounts depend on.
	for _, m := range cacheMounts {
		line("mkdir -p %s", Quote(p.CacheDir+"/"+m.sub))
	}

	// 6. Launch: detached but attachable, host networking, GPU spec verbatim.
	b.WriteString("docker run -itd")
	fmt.Fprintf(&b, " --name %s", Quote(p.ContainerName))
	fmt.Fprintf(&b, " --gpus %s", Quote(p.DeviceSpec))
	b.WriteString(" --network host")
	b.WriteString(" -e ACCEPT_EULA=Y -e PRIVACY_CONSENT=Y")
	for _, m := range cacheMounts {
		fmt.Fprintf(&b, " \\\n  -v %s:%s:rw", Quote(p.CacheDir+"/"+m.sub), m.target)
	}
	fmt.Fprintf(&b, " \\\n  -v %s:%s:rw", Quote(projectDir), p.ProjectMountPath)
	fmt.Fprintf(&b, " \\\n  --entrypoint bash %s\n", Quote(p.ImageRef))

	// 7. Archives are single-use.
	if mode.UploadRequired() {
		line("rm -f %s", Quote(imageArchive))
	}
	line("rm -f %s", Quote(projectArchive))

	return Command{Name: "install", Line: b.String()}
}
