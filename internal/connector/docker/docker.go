// Package docker provides a connector that opens interactive shells inside
// running Docker containers.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/eugenetaranov/trs/internal/connector"
	"github.com/eugenetaranov/trs/internal/connector/local"
)

// Dialer attaches to containers through the docker CLI.
type Dialer struct {
	shell   string
	workdir string
	env     map[string]string
}

// Option configures the Docker connector.
type Option func(*Dialer)

// WithShell sets the shell started in the container.
func WithShell(shell string) Option {
	return func(d *Dialer) {
		d.shell = shell
	}
}

// WithWorkdir sets the working directory of the shell.
func WithWorkdir(dir string) Option {
	return func(d *Dialer) {
		d.workdir = dir
	}
}

// WithEnv adds an environment variable for the shell.
func WithEnv(key, value string) Option {
	return func(d *Dialer) {
		if d.env == nil {
			d.env = make(map[string]string)
		}
		d.env[key] = value
	}
}

// New creates a new Docker connector.
func New(opts ...Option) *Dialer {
	d := &Dialer{
		shell: "/bin/sh",
		env:   make(map[string]string),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dial verifies the container named by addr exists and is running. A
// non-empty user from auth runs the shell as that user.
func (d *Dialer) Dial(ctx context.Context, addr string, auth connector.Auth) (connector.Transport, error) {
	if addr == "" {
		return nil, connector.Errorf(connector.AddressInvalid, "Invalid container name: empty")
	}

	// Check if docker is available
	if _, err := exec.LookPath("docker"); err != nil {
		return nil, connector.Errorf(connector.TransportError, "docker command not found: %w", err)
	}

	// Check if container exists and is running
	cmd := exec.CommandContext(ctx, "docker", "inspect", "-f", "{{.State.Running}}", addr)
	output, err := cmd.Output()
	if err != nil {
		return nil, connector.Errorf(connector.AddressInvalid, "container '%s' not found or not accessible: %w", addr, err)
	}

	if strings.TrimSpace(string(output)) != "true" {
		return nil, connector.Errorf(connector.TransportError, "container '%s' is not running", addr)
	}

	connector.OnAuthenticating(ctx)

	t := &Transport{dialer: d, container: addr}
	if auth != nil {
		t.user = auth.Username()
	}
	return t, nil
}

// Transport runs shells and writes files in one container.
type Transport struct {
	dialer    *Dialer
	container string
	user      string
}

// OpenShell starts an interactive shell in the container under a local PTY.
func (t *Transport) OpenShell(ctx context.Context) (connector.Shell, error) {
	cmd := exec.Command("docker", t.shellArgs()...)
	sh, err := local.StartPTY(cmd)
	if err != nil {
		return nil, err
	}
	return sh, nil
}

// shellArgs builds the docker exec arguments for an interactive shell.
func (t *Transport) shellArgs() []string {
	args := []string{"exec", "-it", "-e", "TERM=" + local.TermType}
	args = append(args, t.commonArgs()...)
	return append(args, t.container, t.dialer.shell)
}

// commonArgs returns the user, workdir and env flags.
func (t *Transport) commonArgs() []string {
	var args []string

	// Add user if specified
	if t.user != "" {
		args = append(args, "-u", t.user)
	}

	// Add working directory if specified
	if t.dialer.workdir != "" {
		args = append(args, "-w", t.dialer.workdir)
	}

	// Add environment variables
	for k, v := range t.dialer.env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}

	return args
}

// sinkScript opens path before reading stdin and prints a single '0' once
// the file is writable, so a bad path fails before any data is sent.
func sinkScript(path string, mode os.FileMode) string {
	q := "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
	return fmt.Sprintf("exec 3>%s && chmod %o %s && printf 0 && exec cat >&3", q, mode.Perm(), q)
}

// sinkArgs builds the docker exec arguments that write stdin to path.
func (t *Transport) sinkArgs(path string, mode os.FileMode) []string {
	args := []string{"exec", "-i"}
	args = append(args, t.commonArgs()...)
	return append(args, t.container, "sh", "-c", sinkScript(path, mode))
}

// CreateFile streams written data into path inside the container.
func (t *Transport) CreateFile(path string, mode os.FileMode, size int64) (io.WriteCloser, error) {
	return openSink(exec.Command("docker", t.sinkArgs(path, mode)...))
}

// openSink starts cmd running a sink script and waits for its ack.
func openSink(cmd *exec.Cmd) (*sink, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start docker exec: %w", err)
	}

	s := &sink{cmd: cmd, stdin: stdin, stderr: &stderr}

	ack := make([]byte, 1)
	if _, err := io.ReadFull(stdout, ack); err != nil || ack[0] != '0' {
		stdin.Close()
		if werr := cmd.Wait(); werr != nil {
			err = werr
		}
		if err == nil {
			err = fmt.Errorf("unexpected ack %q", ack[0])
		}
		return nil, connector.Errorf(connector.FileIOError, "failed to open file: %s: %w", strings.TrimSpace(stderr.String()), err)
	}

	return s, nil
}

// Close is a no-op for Docker connections.
func (t *Transport) Close() error {
	return nil
}

// String returns a description of the connection.
func (t *Transport) String() string {
	desc := fmt.Sprintf("docker://%s", t.container)
	if t.user != "" {
		desc = fmt.Sprintf("docker://%s@%s", t.user, t.container)
	}
	return desc
}

// sink feeds a file to "cat" running in the container.
type sink struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
}

func (s *sink) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

func (s *sink) Close() error {
	s.stdin.Close()
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("%s: %w", strings.TrimSpace(s.stderr.String()), err)
	}
	return nil
}

// Ensure the types implement the connector interfaces.
var (
	_ connector.Dialer    = (*Dialer)(nil)
	_ connector.Transport = (*Transport)(nil)
)
