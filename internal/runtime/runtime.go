// Package runtime tracks the connections opened by a script and owns their
// teardown.
package runtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/eugenetaranov/trs/internal/connector"
	"github.com/eugenetaranov/trs/internal/connector/docker"
	"github.com/eugenetaranov/trs/internal/connector/local"
	"github.com/eugenetaranov/trs/internal/connector/ssh"
	"github.com/eugenetaranov/trs/internal/console"
	"github.com/eugenetaranov/trs/internal/outlog"
	"github.com/eugenetaranov/trs/internal/session"
)

// DefaultPrompt matches the usual prompt of a non-root shell.
const DefaultPrompt = `\$ `

// Console titles of the connect steps.
const (
	TitleSSHSimple = "CONNECT SSH SIMPLE"
	TitleSSHKey    = "CONNECT SSH KEY"
	TitleLocal     = "CONNECT LOCAL"
	TitleDocker    = "CONNECT DOCKER"
)

// Registry creates sessions and closes them when the script ends.
type Registry struct {
	ctx     context.Context
	console *console.Shared
	log     *outlog.Logger
	logger  zerolog.Logger

	defaultPrompt *regexp.Regexp
	readTimeout   time.Duration

	sshOpts []ssh.Option
	ssh     connector.Dialer
	local   connector.Dialer
	docker  connector.Dialer

	in           *bufio.Reader
	out          io.Writer
	readPassword func() (string, error)

	mu     sync.Mutex
	conns  []*session.Handle
	closed bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithContext sets the context sessions run under.
func WithContext(ctx context.Context) Option {
	return func(r *Registry) {
		r.ctx = ctx
	}
}

// WithDefaultPrompt sets the prompt used when a connect call gives none.
func WithDefaultPrompt(p *regexp.Regexp) Option {
	return func(r *Registry) {
		r.defaultPrompt = p
	}
}

// WithReadTimeout bounds waiting for the prompt after each command.
func WithReadTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.readTimeout = d
	}
}

// WithTransferMode selects scp or sftp for SSH file transfers.
func WithTransferMode(mode ssh.TransferMode) Option {
	return func(r *Registry) {
		r.sshOpts = append(r.sshOpts, ssh.WithTransferMode(mode))
	}
}

// WithKnownHosts verifies SSH host keys against a known_hosts file.
func WithKnownHosts(path string) Option {
	return func(r *Registry) {
		r.sshOpts = append(r.sshOpts, ssh.WithKnownHosts(path))
	}
}

// WithSSHDialer replaces the SSH dialer.
func WithSSHDialer(d connector.Dialer) Option {
	return func(r *Registry) {
		r.ssh = d
	}
}

// WithLocalDialer replaces the dialer used by ConnectLocal.
func WithLocalDialer(d connector.Dialer) Option {
	return func(r *Registry) {
		r.local = d
	}
}

// WithDockerDialer replaces the dialer used by ConnectDocker.
func WithDockerDialer(d connector.Dialer) Option {
	return func(r *Registry) {
		r.docker = d
	}
}

// WithInput sets where Read takes user input from.
func WithInput(in io.Reader) Option {
	return func(r *Registry) {
		r.in = bufio.NewReader(in)
	}
}

// WithPasswordReader sets how ReadPass reads a secret.
func WithPasswordReader(fn func() (string, error)) Option {
	return func(r *Registry) {
		r.readPassword = fn
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// New creates a registry reporting to c and logging commands to log.
func New(c *console.Shared, log *outlog.Logger, opts ...Option) *Registry {
	r := &Registry{
		ctx:           context.Background(),
		console:       c,
		log:           log,
		logger:        zerolog.Nop(),
		defaultPrompt: regexp.MustCompile(DefaultPrompt),
		in:            bufio.NewReader(os.Stdin),
		out:           os.Stdout,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.ssh == nil {
		r.ssh = ssh.New(append(r.sshOpts, ssh.WithLogger(r.logger))...)
	}
	if r.local == nil {
		r.local = local.New()
	}
	if r.docker == nil {
		r.docker = docker.New()
	}
	if r.readPassword == nil {
		r.readPassword = r.readTerminalPassword
	}

	return r
}

// ConnectPassword opens an SSH session with password authentication.
func (r *Registry) ConnectPassword(addr, user, password string, prompt *string) *session.Handle {
	return r.connect(session.Config{
		Addr:   addr,
		Auth:   connector.PasswordAuth{User: user, Password: password},
		Dialer: r.ssh,
		Prompt: r.prompt(prompt),
		Title:  TitleSSHSimple,
		Body:   fmt.Sprintf("%s %s ******", addr, user),
	})
}

// ConnectKey opens an SSH session with key authentication.
func (r *Registry) ConnectKey(addr, user, privateKey string, prompt, passphrase, publicKey *string) *session.Handle {
	auth := connector.KeyAuth{User: user, PrivateKeyPath: privateKey}
	if passphrase != nil {
		auth.Passphrase = *passphrase
	}
	if publicKey != nil {
		auth.PublicKeyPath = *publicKey
	}

	return r.connect(session.Config{
		Addr:   addr,
		Auth:   auth,
		Dialer: r.ssh,
		Prompt: r.prompt(prompt),
		Title:  TitleSSHKey,
		Body:   fmt.Sprintf("%s %s %s", addr, user, privateKey),
	})
}

// ConnectLocal opens a shell on the local machine.
func (r *Registry) ConnectLocal(prompt *string) *session.Handle {
	return r.connect(session.Config{
		Addr:   "localhost",
		Dialer: r.local,
		Prompt: r.prompt(prompt),
		Title:  TitleLocal,
		Body:   "localhost",
	})
}

// ConnectDocker opens a shell in a running container.
func (r *Registry) ConnectDocker(container string, prompt *string) *session.Handle {
	return r.connect(session.Config{
		Addr:   container,
		Dialer: r.docker,
		Prompt: r.prompt(prompt),
		Title:  TitleDocker,
		Body:   container,
	})
}

func (r *Registry) connect(cfg session.Config) *session.Handle {
	cfg.Console = r.console
	cfg.Log = r.log
	cfg.ReadTimeout = r.readTimeout
	cfg.Logger = r.logger

	h := session.Start(r.ctx, cfg)

	r.mu.Lock()
	closed := r.closed
	if !closed {
		r.conns = append(r.conns, h)
	}
	r.mu.Unlock()

	// Nothing would close a session opened after CloseAll
	if closed {
		h.Close()
		r.logger.Debug().Str("conn", h.ID()).Str("addr", cfg.Addr).Msg("connection closed, runtime shut down")
		return h
	}

	r.logger.Debug().Str("conn", h.ID()).Str("addr", cfg.Addr).Stringer("state", h.State()).Msg("connection registered")
	return h
}

// prompt resolves an optional connect prompt. An unparsable pattern yields
// nil, which fails the session.
func (r *Registry) prompt(p *string) *regexp.Regexp {
	if p == nil {
		return r.defaultPrompt
	}
	re, err := regexp.Compile(*p)
	if err != nil {
		r.logger.Debug().Err(err).Str("prompt", *p).Msg("bad connect prompt")
		return nil
	}
	return re
}

// Print prints text under the current console component.
func (r *Registry) Print(text string) {
	r.console.Print(text)
}

// Read asks the user for a line of input.
func (r *Registry) Read(prompt string) (string, error) {
	r.printReadPrompt(prompt)

	line, err := r.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ReadPass asks the user for a secret without echoing it.
func (r *Registry) ReadPass(prompt string) (string, error) {
	r.printReadPrompt(prompt)

	pass, err := r.readPassword()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return pass, nil
}

func (r *Registry) printReadPrompt(prompt string) {
	_ = r.console.Do(func(rep console.Reporter) error {
		rep.PrintReadPrompt(prompt)
		return nil
	})
}

func (r *Registry) readTerminalPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := r.in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	b, err := term.ReadPassword(fd)
	fmt.Fprintln(r.out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Connections returns the sessions in creation order.
func (r *Registry) Connections() []*session.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*session.Handle(nil), r.conns...)
}

// CloseAll closes every session, newest first. Later calls do nothing.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	conns := r.conns
	r.conns = nil
	r.mu.Unlock()

	for i := len(conns) - 1; i >= 0; i-- {
		conns[i].Close()
		r.logger.Debug().Str("conn", conns[i].ID()).Msg("connection closed")
	}
}
