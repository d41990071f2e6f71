package remote

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrConnectionFailed = errors.New("ssh connection failed")
	ErrCommandFailed    = errors.New("remote command failed")
	ErrTimeout          = errors.New("remote command timed out")
)

// RemoteError wraps a remote step failure with the host and step name.
type RemoteError struct {
	Step    string // logical command name
	Host    string
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s on %s: %s", e.Step, e.Host, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// NewRemoteError creates a new RemoteError.
func NewRemoteError(step, host, message string, err error) *RemoteError {
	return &RemoteError{
		Step:    step,
		Host:    host,
		Message: message,
		Err:     err,
	}
}
