// Package connectortest provides an in-memory dialer whose shell behaves
// like a terminal, for testing code built on sessions.
package connectortest

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/eugenetaranov/trs/internal/connector"
)

// Shell emulates an interactive shell. It echoes every line, answers
// commands from Outputs and prints its prompt. A PS1='...' line replaces the
// prompt. "hang" prints nothing and "die" closes the shell.
type Shell struct {
	// Delays makes a command answer late. Lines written meanwhile are
	// echoed at once and run when the command has finished.
	Delays map[string]time.Duration

	mu      sync.Mutex
	prompt  string
	outputs map[string]string
	line    []byte
	lines   []string
	closed  bool
	busy    bool
	queued  []string
	out     chan []byte

	// pending is only touched by the reading goroutine
	pending []byte
}

// NewShell creates a shell that starts by printing banner and prompt.
func NewShell(banner, prompt string, outputs map[string]string) *Shell {
	s := &Shell{
		prompt:  prompt,
		outputs: outputs,
		out:     make(chan []byte, 256),
	}
	s.emit(banner + prompt)
	return s
}

func (s *Shell) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		b, ok := <-s.out
		if !ok {
			return 0, io.EOF
		}
		s.pending = b
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *Shell) Write(p []byte) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, io.ErrClosedPipe
	}

	for _, b := range p {
		if b != '\n' {
			s.line = append(s.line, b)
			continue
		}
		line := string(s.line)
		s.line = nil

		s.mu.Lock()
		s.lines = append(s.lines, line)
		busy := s.busy
		if busy {
			s.queued = append(s.queued, line)
		}
		s.mu.Unlock()

		s.emit(line + "\r\n")
		if !busy {
			s.run(line)
		}
	}
	return len(p), nil
}

// run executes an already echoed line.
func (s *Shell) run(line string) {
	switch {
	case strings.HasPrefix(line, "PS1='"):
		s.mu.Lock()
		s.prompt = strings.TrimSuffix(strings.TrimPrefix(line, "PS1='"), "'")
		s.mu.Unlock()
		s.emit(s.currentPrompt())
	case line == "hang":
	case line == "die":
		s.Close()
	case s.Delays[line] > 0:
		s.mu.Lock()
		s.busy = true
		s.mu.Unlock()
		time.AfterFunc(s.Delays[line], func() {
			s.emit(s.outputs[line] + s.currentPrompt())
			s.mu.Lock()
			s.busy = false
			s.mu.Unlock()
			s.runQueued()
		})
	default:
		s.emit(s.outputs[line] + s.currentPrompt())
	}
}

// runQueued runs the lines written while a command was busy.
func (s *Shell) runQueued() {
	for {
		s.mu.Lock()
		if s.busy || len(s.queued) == 0 {
			s.mu.Unlock()
			return
		}
		line := s.queued[0]
		s.queued = s.queued[1:]
		s.mu.Unlock()

		s.run(line)
	}
}

func (s *Shell) currentPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt
}

func (s *Shell) emit(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.out <- []byte(text)
	}
}

// Close ends the output stream.
func (s *Shell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	return nil
}

// Received returns the lines written to the shell.
func (s *Shell) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// Transport hands out one Shell and keeps created files in memory. Paths
// under /readonly/ cannot be created.
type Transport struct {
	Shell *Shell

	mu     sync.Mutex
	files  map[string]*bytes.Buffer
	closed bool

	// OnClose is called when the transport is closed.
	OnClose func()
}

// NewTransport creates a transport around sh.
func NewTransport(sh *Shell) *Transport {
	return &Transport{Shell: sh, files: make(map[string]*bytes.Buffer)}
}

func (t *Transport) OpenShell(ctx context.Context) (connector.Shell, error) {
	return t.Shell, nil
}

func (t *Transport) CreateFile(path string, mode os.FileMode, size int64) (io.WriteCloser, error) {
	if strings.HasPrefix(path, "/readonly/") {
		return nil, os.ErrPermission
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := &bytes.Buffer{}
	t.files[path] = buf
	return nopCloser{buf}, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	onClose := t.OnClose
	t.mu.Unlock()

	if onClose != nil {
		onClose()
	}
	return nil
}

func (t *Transport) String() string { return "fake" }

// File returns the content written to path.
func (t *Transport) File(path string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf, ok := t.files[path]
	if !ok {
		return "", false
	}
	return buf.String(), true
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type nopCloser struct {
	*bytes.Buffer
}

func (nopCloser) Close() error { return nil }

// Dialer returns transports from New, or Err when set.
type Dialer struct {
	// New creates the transport for one dial.
	New func(addr string) *Transport

	// Err fails every dial.
	Err error

	mu    sync.Mutex
	dials []string
}

// NewDialer creates a dialer whose shells print "$ " and answer from outputs.
func NewDialer(outputs map[string]string) *Dialer {
	return &Dialer{
		New: func(string) *Transport {
			return NewTransport(NewShell("Welcome\r\n", "$ ", outputs))
		},
	}
}

func (d *Dialer) Dial(ctx context.Context, addr string, auth connector.Auth) (connector.Transport, error) {
	d.mu.Lock()
	d.dials = append(d.dials, addr)
	d.mu.Unlock()

	if d.Err != nil {
		return nil, d.Err
	}
	connector.OnAuthenticating(ctx)
	return d.New(addr), nil
}

// Dials returns the addresses dialed so far.
func (d *Dialer) Dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dials...)
}

var (
	_ connector.Dialer    = (*Dialer)(nil)
	_ connector.Transport = (*Transport)(nil)
	_ connector.Shell     = (*Shell)(nil)
)
