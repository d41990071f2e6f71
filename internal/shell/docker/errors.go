package docker

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrContainerNotRunning = errors.New("container is not running")
	ErrImageNotFound       = errors.New("image not found")
	ErrConnectionFailed    = errors.New("docker connection failed")
)

// EngineError wraps local Docker failures with operation context.
type EngineError struct {
	Op      string // operation that failed
	Ref     string // container name or image reference if applicable
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Ref, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError.
func NewEngineError(op, ref, message string, err error) *EngineError {
	return &EngineError{
		Op:      op,
		Ref:     ref,
		Message: message,
		Err:     err,
	}
}
