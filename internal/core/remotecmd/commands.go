// Package remotecmd builds the shell commands a deployment run executes on
// the remote host. Each step is a typed Command rendered from validated
// parameters; execution happens elsewhere through the remote executor
// interface, so everything here is pure and unit-testable without a host.
package remotecmd

import (
	"fmt"
	"strings"
)

// =============================================================================
// Command
// =============================================================================

// Command is one remote step: a logical name for logging and error context,
// and the exact shell line (or batch) the remote side runs.
type Command struct {
	Name string
	Line string
}

// Quote wraps s in single quotes so the remote shell treats it as a single
// word. Embedded single quotes are escaped with the standard '\'' dance.
// Multi-device GPU specs like "device=3,4" depend on this to survive remote
// re-interpretation as one argument.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// =============================================================================
// Step Constructors
// =============================================================================

// ResolveHome reports the remote login directory. Relative remote paths are
// resolved against it exactly once per run.
func ResolveHome() Command {
	return Command{Name: "resolve-home", Line: "pwd"}
}

// ListImages lists every image reference cached on the remote host, one per
// line. Read-only; this is the presence check that gates image upload.
func ListImages() Command {
	return Command{
		Name: "list-images",
		Line: "docker images --format '{{.Repository}}:{{.Tag}}'",
	}
}

// RemoveDir removes a remote directory tree. Absence is not an error.
func RemoveDir(path string) Command {
	return Command{
		Name: "remove-dir",
		Line: fmt.Sprintf("rm -rf %s", Quote(path)),
	}
}

// RemoveFile removes a remote file. Absence is not an error.
func RemoveFile(path string) Command {
	return Command{
		Name: "remove-file",
		Line: fmt.Sprintf("rm -f %s", Quote(path)),
	}
}

// RemoveContainer force-removes a remote container, running or stopped.
// Used by the cleanup utility; the installer batch embeds its own removal.
func RemoveContainer(name string) Command {
	return Command{
		Name: "remove-container",
		Line: fmt.Sprintf("docker rm -f %s", Quote(name)),
	}
}

// RemoveImage removes a remote image reference.
func RemoveImage(ref string) Command {
	return Command{
		Name: "remove-image",
		Line: fmt.Sprintf("docker rmi %s", Quote(ref)),
	}
}

// StreamLogs emits a gzipped tar of the run's wks_logs directory on stdout
// for the fetch-logs utility to capture.
func StreamLogs(baseDir, projectDirName string) Command {
	return Command{
		Name: "stream-logs",
		Line: fmt.Sprintf("tar -czf - -C %s wks_logs",
			Quote(baseDir+"/"+projectDirName)),
	}
}
