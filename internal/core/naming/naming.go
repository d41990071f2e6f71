// Package naming derives every name a deployment run needs from the
// (host, run tag) pair. All functions are pure; identical inputs always
// yield identical names, which is what makes the remote presence check
// able to recognize an image uploaded by an earlier run.
package naming

import (
	"fmt"
	"path"
	"strings"
)

// =============================================================================
// Host Slug
// =============================================================================

// slugFallback replaces a slug that sanitizes down to nothing so that
// downstream names never contain an empty segment.
const slugFallback = "host"

// HostSlug converts a host identifier to a tag- and filesystem-safe slug.
//
// The transformation rules are:
//   - Uppercase letters (A-Z) are lowercased
//   - Lowercase letters, digits, '_', '.' and '-' are kept as-is
//   - Every other rune is replaced with '-'
//   - Leading and trailing '-', '.' and '_' are trimmed
//   - An empty result falls back to "host"
//
// Pure and total: it never fails and never returns an empty string, and
// applying it twice yields the same result as applying it once.
//
// Example:
//
//	HostSlug("sb-RL-172")      // returns "sb-rl-172"
//	HostSlug("lab box #3")     // returns "lab-box--3"
//	HostSlug("!!!")            // returns "host"
func HostSlug(host string) string {
	var b strings.Builder
	for _, r := range host {
		switch {
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + 32)
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '.' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	slug := strings.Trim(b.String(), "-._")
	if slug == "" {
		return slugFallback
	}
	return slug
}

// =============================================================================
// Image and Container Names
// =============================================================================

// ImageRef composes the fully qualified image reference for a deployment.
// Pattern: {imageName}:train-server-{slug}-{runTag}
//
// Example:
//
//	ImageRef("marladona_image", "sb-RL-172", "20260107")
//	// returns "marladona_image:train-server-sb-rl-172-20260107"
func ImageRef(imageName, host, runTag string) string {
	return fmt.Sprintf("%s:train-server-%s-%s", imageName, HostSlug(host), runTag)
}

// ContainerName composes the remote container name for a deployment epoch.
// Pattern: {baseName}-{runTag}
func ContainerName(baseName, runTag string) string {
	return fmt.Sprintf("%s-%s", baseName, runTag)
}

// =============================================================================
// Archive and Directory Names
// =============================================================================

// ImageArchiveName is the file name the saved image archive travels under.
// Registry-style image names may contain '/', so the name is flattened
// through HostSlug rules before use.
func ImageArchiveName(imageName, host, runTag string) string {
	return fmt.Sprintf("%s_%s-%s.tar", HostSlug(path.Base(imageName)), HostSlug(host), runTag)
}

// ProjectArchiveName is the file name the packaged project tree travels under.
func ProjectArchiveName(projectName, runTag string) string {
	return fmt.Sprintf("%s_%s.tar.gz", projectName, runTag)
}

// ProjectDirName is the canonical run-tagged directory the remote installer
// guarantees the unpacked project resides in, regardless of the archive's
// internal top-level directory name.
func ProjectDirName(projectName, runTag string) string {
	return fmt.Sprintf("%s_%s", projectName, runTag)
}

// LogDirName is the local directory fetch-logs downloads into.
// Pattern: wks_logs_{slug}-{runTag}
func LogDirName(host, runTag string) string {
	return fmt.Sprintf("wks_logs_%s-%s", HostSlug(host), runTag)
}
