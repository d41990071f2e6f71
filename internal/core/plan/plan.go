// Package plan validates deployment arguments and derives the immutable set
// of names a run threads through every downstream step. A Plan is computed
// once at startup; no component re-derives or re-reads any of its fields.
package plan

import (
	"fmt"
	"os/exec"
	"regexp"

	"github.com/marladona/trainship/internal/core/naming"
)

// runTagPattern is the only accepted run tag shape: an 8-digit date stamp.
var runTagPattern = regexp.MustCompile(`^[0-9]{8}$`)

// =============================================================================
// Upload Mode
// =============================================================================

// Mode is the single upload-or-reuse decision, computed exactly once from the
// remote presence check and passed unchanged to every later step.
type Mode int

const (
	// ModeReuseExisting means the image reference is already cached on the
	// remote host; no commit, save or image transfer happens.
	ModeReuseExisting Mode = iota

	// ModeUploadFresh means the local container must be committed, saved and
	// shipped before the installer can run.
	ModeUploadFresh
)

func (m Mode) String() string {
	switch m {
	case ModeReuseExisting:
		return "reuse-existing"
	case ModeUploadFresh:
		return "upload-fresh"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// UploadRequired reports whether the run must build and ship a fresh image.
func (m Mode) UploadRequired() bool {
	return m == ModeUploadFresh
}

// =============================================================================
// Plan
// =============================================================================

// Plan carries the validated arguments and every derived name for one run.
type Plan struct {
	Host       string
	RunTag     string
	DeviceSpec string

	Slug               string
	ImageRef           string
	ContainerName      string
	ProjectDirName     string
	ProjectArchiveName string
	ImageArchiveName   string
}

// Inputs are the configuration values Plan derivation depends on.
type Inputs struct {
	AllowedHosts  []string
	ImageName     string
	ContainerBase string
	ProjectName   string // basename of the local project directory
}

// New validates the CLI arguments against the allow-list and format rules and
// derives the run's names. It has no side effects; any failure here aborts
// before any remote or destructive action.
func New(in Inputs, host, runTag, deviceSpec string) (Plan, error) {
	if !hostAllowed(in.AllowedHosts, host) {
		return Plan{}, fmt.Errorf("host %q is not in the allowed host list %v", host, in.AllowedHosts)
	}
	if !runTagPattern.MatchString(runTag) {
		return Plan{}, fmt.Errorf("run tag %q must be 8 digits (e.g. 20260107)", runTag)
	}
	if deviceSpec == "" {
		return Plan{}, fmt.Errorf("gpu device spec must not be empty")
	}

	return Plan{
		Host:               host,
		RunTag:             runTag,
		DeviceSpec:         deviceSpec,
		Slug:               naming.HostSlug(host),
		ImageRef:           naming.ImageRef(in.ImageName, host, runTag),
		ContainerName:      naming.ContainerName(in.ContainerBase, runTag),
		ProjectDirName:     naming.ProjectDirName(in.ProjectName, runTag),
		ProjectArchiveName: naming.ProjectArchiveName(in.ProjectName, runTag),
		ImageArchiveName:   naming.ImageArchiveName(in.ImageName, host, runTag),
	}, nil
}

func hostAllowed(allowed []string, host string) bool {
	for _, h := range allowed {
		if h == host {
			return true
		}
	}
	return false
}

// =============================================================================
// Tool Availability
// =============================================================================

// CheckTools verifies that every named external tool resolves on PATH.
// The first missing tool fails the whole check.
func CheckTools(names []string) error {
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("required tool %q not found on PATH: %w", name, err)
		}
	}
	return nil
}
