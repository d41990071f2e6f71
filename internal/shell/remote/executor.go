// Package remote executes deployment steps on the target host over SSH.
// All remote interaction goes through the Executor interface so the
// orchestrator can run against a mock executor in tests.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/marladona/trainship/internal/core/remotecmd"
)

// =============================================================================
// Executor Interface
// =============================================================================

// Executor runs typed commands on the deployment target.
type Executor interface {
	// Run executes one command and returns its stdout.
	Run(ctx context.Context, cmd remotecmd.Command) (string, error)

	// Push streams r into the remote path, creating or truncating the file.
	Push(ctx context.Context, r io.Reader, remotePath string) error

	// Pull executes a command and streams its stdout into w.
	Pull(ctx context.Context, cmd remotecmd.Command, w io.Writer) error

	Close() error
}

// =============================================================================
// SSH Executor
// =============================================================================

// Config configures the SSH executor.
type Config struct {
	Host           string // target host name or address
	User           string
	Port           int           // default 22
	KeyPath        string        // private key file, e.g. ~/.ssh/id_ed25519
	CommandTimeout time.Duration // per-command, default 10 minutes (transfers included)
	ConnectTimeout time.Duration // default 10 seconds
}

// SSHExecutor implements Executor over a single lazily-dialed SSH connection,
// opening one session per command.
type SSHExecutor struct {
	cfg    Config
	signer ssh.Signer
	client *ssh.Client
	mu     sync.Mutex // protects client
}

// NewSSHExecutor parses the private key and prepares an executor. The
// connection itself is established on first use.
func NewSSHExecutor(cfg Config) (*SSHExecutor, error) {
	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read SSH private key %s: %w", cfg.KeyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse SSH private key: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 10 * time.Minute
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	return &SSHExecutor{cfg: cfg, signer: signer}, nil
}

// connect establishes the SSH connection if not already connected.
func (e *SSHExecutor) connect(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		// Check if the connection is still alive
		_, _, err := e.client.SendRequest("keepalive@trainship", true, nil)
		if err == nil {
			return nil
		}
		e.client.Close()
		e.client = nil
	}

	config := &ssh.ClientConfig{
		User:            e.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(e.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // lab hosts; keys are not pinned
		Timeout:         e.cfg.ConnectTimeout,
	}

	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return NewRemoteError("connect", e.cfg.Host, err.Error(), ErrConnectionFailed)
	}

	e.client = client
	return nil
}

// Close closes the SSH connection.
func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		err := e.client.Close()
		e.client = nil
		return err
	}
	return nil
}

// session opens a fresh session on the shared connection.
func (e *SSHExecutor) session(ctx context.Context) (*ssh.Session, error) {
	if err := e.connect(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	session, err := e.client.NewSession()
	e.mu.Unlock()
	if err != nil {
		return nil, NewRemoteError("session", e.cfg.Host, err.Error(), ErrConnectionFailed)
	}
	return session, nil
}

// wait runs fn in a goroutine and enforces context cancellation and the
// per-command timeout.
func (e *SSHExecutor) wait(ctx context.Context, step string, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.cfg.CommandTimeout):
		return NewRemoteError(step, e.cfg.Host, fmt.Sprintf("timeout after %v", e.cfg.CommandTimeout), ErrTimeout)
	case err := <-done:
		return err
	}
}

// Run executes one command and returns its stdout.
func (e *SSHExecutor) Run(ctx context.Context, cmd remotecmd.Command) (string, error) {
	session, err := e.session(ctx)
	if err != nil {
		return "", err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = e.wait(ctx, cmd.Name, func() error {
		return session.Run(cmd.Line)
	})
	if err != nil {
		if _, ok := err.(*RemoteError); ok {
			return "", err
		}
		msg := firstLine(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", NewRemoteError(cmd.Name, e.cfg.Host, msg, ErrCommandFailed)
	}
	return stdout.String(), nil
}

// Push streams r into the remote path via `cat`, which sidesteps remote
// shell expansion of the path beyond the quoting already applied.
func (e *SSHExecutor) Push(ctx context.Context, r io.Reader, remotePath string) error {
	session, err := e.session(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	session.Stdin = r
	var stderr bytes.Buffer
	session.Stderr = &stderr

	line := fmt.Sprintf("cat > %s", remotecmd.Quote(remotePath))
	err = e.wait(ctx, "push", func() error {
		return session.Run(line)
	})
	if err != nil {
		if _, ok := err.(*RemoteError); ok {
			return err
		}
		msg := firstLine(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return NewRemoteError("push", e.cfg.Host, msg, ErrCommandFailed)
	}
	return nil
}

// Pull executes a command and streams its stdout into w.
func (e *SSHExecutor) Pull(ctx context.Context, cmd remotecmd.Command, w io.Writer) error {
	session, err := e.session(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	session.Stdout = w
	var stderr bytes.Buffer
	session.Stderr = &stderr

	err = e.wait(ctx, cmd.Name, func() error {
		return session.Run(cmd.Line)
	})
	if err != nil {
		if _, ok := err.(*RemoteError); ok {
			return err
		}
		msg := firstLine(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return NewRemoteError(cmd.Name, e.cfg.Host, msg, ErrCommandFailed)
	}
	return nil
}

// ResolveHomeDir queries the remote login directory. Callers resolve
// relative remote paths against it once per run.
func ResolveHomeDir(ctx context.Context, exec Executor) (string, error) {
	out, err := exec.Run(ctx, remotecmd.ResolveHome())
	if err != nil {
		return "", err
	}
	home := firstLine(out)
	if home == "" {
		return "", fmt.Errorf("resolve remote home: empty response")
	}
	return home, nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
