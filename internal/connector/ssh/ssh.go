// Package ssh provides a connector that opens interactive shells over SSH.
package ssh

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/eugenetaranov/trs/internal/connector"
)

// Terminal settings requested for every shell.
const (
	TermType   = "ansi"
	TermWidth  = 100
	TermHeight = 100
)

// TransferMode selects how files are written to the target.
type TransferMode string

const (
	// SCP streams files through "scp -t" on the target.
	SCP TransferMode = "scp"

	// SFTP writes files through the sftp subsystem.
	SFTP TransferMode = "sftp"
)

// Dialer opens SSH transports.
type Dialer struct {
	timeout    time.Duration
	transfer   TransferMode
	knownHosts string
	hostKey    gossh.HostKeyCallback
	log        zerolog.Logger
}

// Option configures the SSH dialer.
type Option func(*Dialer)

// WithTimeout sets the transport connect timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Dialer) {
		c.timeout = d
	}
}

// WithTransferMode selects scp or sftp for file transfers.
func WithTransferMode(mode TransferMode) Option {
	return func(c *Dialer) {
		c.transfer = mode
	}
}

// WithKnownHosts verifies host keys against an OpenSSH known_hosts file.
func WithKnownHosts(path string) Option {
	return func(c *Dialer) {
		c.knownHosts = path
	}
}

// WithHostKeyCallback sets a custom host key check.
func WithHostKeyCallback(cb gossh.HostKeyCallback) Option {
	return func(c *Dialer) {
		c.hostKey = cb
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Dialer) {
		c.log = l
	}
}

// New creates a new SSH dialer. Host keys are not verified unless
// WithKnownHosts or WithHostKeyCallback is given.
func New(opts ...Option) *Dialer {
	d := &Dialer{
		timeout:  connector.DefaultTimeout,
		transfer: SCP,
		log:      zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dial connects to addr ("host:port") and authenticates.
func (d *Dialer) Dial(ctx context.Context, addr string, auth connector.Auth) (connector.Transport, error) {
	tcpAddr, err := resolve(addr)
	if err != nil {
		return nil, connector.Errorf(connector.AddressInvalid, "Invalid ip address: %w", err)
	}

	methods, err := authMethods(auth)
	if err != nil {
		return nil, connector.Errorf(connector.AuthError, "Authentication error: %w", err)
	}

	hostKey, err := d.hostKeyCallback()
	if err != nil {
		return nil, connector.Errorf(connector.HandshakeError, "Handshake error: %w", err)
	}

	dialer := net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", tcpAddr.String())
	if err != nil {
		return nil, connector.Errorf(connector.TransportError, "Tcp connection error: %w", err)
	}
	d.log.Debug().Str("addr", tcpAddr.String()).Msg("tcp connected")

	// Key exchange completes before the host key is checked; anything that
	// fails after a successful check happened during authentication.
	var kexDone atomic.Bool
	config := &gossh.ClientConfig{
		User: auth.Username(),
		Auth: methods,
		HostKeyCallback: func(hostname string, remote net.Addr, key gossh.PublicKey) error {
			if err := hostKey(hostname, remote, key); err != nil {
				return err
			}
			kexDone.Store(true)
			connector.OnAuthenticating(ctx)
			return nil
		},
		Timeout: d.timeout,
	}

	// Bound the handshake by the same timeout as the connect
	_ = conn.SetDeadline(time.Now().Add(d.timeout))
	c, chans, reqs, err := gossh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		if kexDone.Load() {
			return nil, connector.Errorf(connector.AuthError, "Authentication error: %w", err)
		}
		return nil, connector.Errorf(connector.HandshakeError, "Handshake error: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	d.log.Debug().Str("addr", addr).Str("user", auth.Username()).Msg("ssh authenticated")

	return &Transport{
		client:   gossh.NewClient(c, chans, reqs),
		addr:     addr,
		user:     auth.Username(),
		transfer: d.transfer,
	}, nil
}

func (d *Dialer) hostKeyCallback() (gossh.HostKeyCallback, error) {
	if d.hostKey != nil {
		return d.hostKey, nil
	}
	if d.knownHosts != "" {
		cb, err := knownhosts.New(d.knownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		return cb, nil
	}
	return gossh.InsecureIgnoreHostKey(), nil
}

// resolve validates a "host:port" address and resolves the host.
func resolve(addr string) (*net.TCPAddr, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	if host == "" || port == "" {
		return nil, fmt.Errorf("missing host or port in %q", addr)
	}
	return net.ResolveTCPAddr("tcp", addr)
}

// Transport is an authenticated SSH client connection.
type Transport struct {
	client   *gossh.Client
	addr     string
	user     string
	transfer TransferMode

	sftpOnce sync.Once
	sftp     *sftp.Client
	sftpErr  error
}

// OpenShell requests a PTY and starts the login shell.
func (t *Transport) OpenShell(ctx context.Context) (connector.Shell, error) {
	sess, err := t.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	modes := gossh.TerminalModes{
		gossh.ECHO:          1,
		gossh.TTY_OP_ISPEED: 14400,
		gossh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty(TermType, TermHeight, TermWidth, modes); err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to get stdin: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to get stdout: %w", err)
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	return &shell{sess: sess, stdin: stdin, stdout: stdout}, nil
}

// CreateFile opens path on the target for writing.
func (t *Transport) CreateFile(path string, mode os.FileMode, size int64) (io.WriteCloser, error) {
	if t.transfer == SFTP {
		c, err := t.sftpClient()
		if err != nil {
			return nil, err
		}
		f, err := openSFTPFile(c, path, mode)
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	f, err := openSCPFile(t.client, path, mode, size)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (t *Transport) sftpClient() (*sftp.Client, error) {
	t.sftpOnce.Do(func() {
		t.sftp, t.sftpErr = sftp.NewClient(t.client)
		if t.sftpErr != nil {
			t.sftpErr = fmt.Errorf("failed to start sftp: %w", t.sftpErr)
		}
	})
	return t.sftp, t.sftpErr
}

// Close terminates the connection.
func (t *Transport) Close() error {
	if t.sftp != nil {
		t.sftp.Close()
	}
	return t.client.Close()
}

// String returns a description of the connection.
func (t *Transport) String() string {
	return fmt.Sprintf("ssh://%s@%s", t.user, t.addr)
}

// shell adapts an SSH session with a PTY to connector.Shell.
type shell struct {
	sess   *gossh.Session
	stdin  io.WriteCloser
	stdout io.Reader
}

func (s *shell) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *shell) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

func (s *shell) Close() error {
	s.stdin.Close()
	return s.sess.Close()
}

// Ensure the types implement the connector interfaces.
var (
	_ connector.Dialer    = (*Dialer)(nil)
	_ connector.Transport = (*Transport)(nil)
)
