// Package local provides a connector that runs an interactive shell on the
// local machine under a pseudo-terminal.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"
	"runtime"

	"github.com/eugenetaranov/trs/internal/connector"
)

// Dialer starts local shells.
type Dialer struct {
	shell     string
	shellArgs []string
	env       []string
}

// Option configures the local connector.
type Option func(*Dialer)

// WithShell sets a custom shell.
func WithShell(shell string, args ...string) Option {
	return func(d *Dialer) {
		d.shell = shell
		d.shellArgs = args
	}
}

// WithEnv adds an environment variable for the shell.
func WithEnv(key, value string) Option {
	return func(d *Dialer) {
		d.env = append(d.env, fmt.Sprintf("%s=%s", key, value))
	}
}

// New creates a new local connector.
func New(opts ...Option) *Dialer {
	d := &Dialer{shell: "/bin/sh"}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dial checks the platform and returns a transport for the local machine.
// The address and credentials are ignored.
func (d *Dialer) Dial(ctx context.Context, addr string, auth connector.Auth) (connector.Transport, error) {
	// Verify we're on a supported platform
	switch runtime.GOOS {
	case "darwin", "linux", "freebsd":
	default:
		return nil, connector.Errorf(connector.TransportError, "unsupported platform: %s", runtime.GOOS)
	}

	if _, err := exec.LookPath(d.shell); err != nil {
		return nil, connector.Errorf(connector.TransportError, "shell not found: %w", err)
	}
	connector.OnAuthenticating(ctx)

	return &Transport{dialer: d}, nil
}

// Transport runs shells and writes files on the local machine.
type Transport struct {
	dialer *Dialer
}

// OpenShell starts the shell under a PTY.
func (t *Transport) OpenShell(ctx context.Context) (connector.Shell, error) {
	cmd := exec.Command(t.dialer.shell, t.dialer.shellArgs...)
	cmd.Env = append(os.Environ(), "TERM="+TermType)
	cmd.Env = append(cmd.Env, t.dialer.env...)

	sh, err := StartPTY(cmd)
	if err != nil {
		return nil, err
	}
	return sh, nil
}

// CreateFile creates or truncates path with the given mode.
func (t *Transport) CreateFile(path string, mode os.FileMode, size int64) (io.WriteCloser, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return nil, err
	}

	// OpenFile only applies mode to new files, and only after the umask
	if err := f.Chmod(mode); err != nil {
		f.Close()
		return nil, err
	}

	return f, nil
}

// Close is a no-op for local connections.
func (t *Transport) Close() error {
	return nil
}

// String returns a description of the connection.
func (t *Transport) String() string {
	u, err := user.Current()
	if err != nil {
		return "local"
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	return fmt.Sprintf("local://%s@%s", u.Username, hostname)
}

// Ensure the types implement the connector interfaces.
var (
	_ connector.Dialer    = (*Dialer)(nil)
	_ connector.Transport = (*Transport)(nil)
)
