package session

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenetaranov/trs/internal/connector"
	"github.com/eugenetaranov/trs/internal/connector/connectortest"
	"github.com/eugenetaranov/trs/internal/console"
	"github.com/eugenetaranov/trs/internal/outlog"
)

var defaultPrompt = regexp.MustCompile(`\$ `)

type env struct {
	dialer    *connectortest.Dialer
	transport *connectortest.Transport
	out       *bytes.Buffer
	log       *bytes.Buffer
	console   *console.Shared
}

func newEnv(outputs map[string]string) *env {
	out := &bytes.Buffer{}
	c := console.New(out)
	c.SetColor(false)
	tr := connectortest.NewTransport(connectortest.NewShell("Welcome\r\n", "$ ", outputs))
	return &env{
		dialer:    &connectortest.Dialer{New: func(string) *connectortest.Transport { return tr }},
		transport: tr,
		out:       out,
		log:       &bytes.Buffer{},
		console:   console.NewShared(c),
	}
}

func (e *env) config() Config {
	return Config{
		Addr:         "10.0.0.1:22",
		Auth:         connector.PasswordAuth{User: "root", Password: "secret"},
		Dialer:       e.dialer,
		Prompt:       defaultPrompt,
		Title:        "CONNECT SSH SIMPLE",
		Body:         "10.0.0.1:22 root ******",
		Console:      e.console,
		Log:          outlog.New(e.log),
		SetupTimeout: time.Second,
		Logger:       zerolog.Nop(),
	}
}

func (e *env) start(t *testing.T) *Handle {
	t.Helper()
	h := Start(context.Background(), e.config())
	t.Cleanup(h.Close)
	require.False(t, h.IsError(), "setup failed: %v", h.Error())
	return h
}

func ptr(s string) *string { return &s }

func TestExec(t *testing.T) {
	e := newEnv(map[string]string{"ls": "file1\r\nfile2\r\n"})
	h := e.start(t)

	assert.Equal(t, Idle, h.State())

	failed, out := h.Exec("ls", nil, false)
	assert.False(t, failed)
	assert.Equal(t, "file1\r\nfile2\r\n", out)

	failed, out = h.Exec("ls", nil, true)
	assert.False(t, failed)
	assert.True(t, strings.HasPrefix(out, "file1\r\nfile2\r\ntrs-"), "got %q", out)
	assert.True(t, strings.HasSuffix(out, "> "), "got %q", out)

	assert.Contains(t, e.out.String(), "⊙ | EXEC : ls\n")
	assert.Contains(t, e.out.String(), "⊙ | EXEC : ls / Hold\n")
	assert.Contains(t, e.log.String(), "<< ls\n>> file1\r\nfile2\r\n\n")
}

func TestSentinelInstalled(t *testing.T) {
	e := newEnv(nil)
	e.start(t)

	lines := e.transport.Shell.Received()
	require.Len(t, lines, 1)
	assert.Regexp(t, `^PS1='trs-[0-9a-f]{12}> '$`, lines[0])
}

func TestSentinelIsUnique(t *testing.T) {
	assert.NotEqual(t, Sentinel(), Sentinel())
}

func TestBadConnectPrompt(t *testing.T) {
	e := newEnv(nil)
	cfg := e.config()
	cfg.Prompt = nil

	h := Start(context.Background(), cfg)
	defer h.Close()

	msg, ok := h.Err()
	assert.True(t, ok)
	assert.Equal(t, BadPromptMessage, msg)
	assert.Equal(t, Failed, h.State())
	assert.Empty(t, e.dialer.Dials(), "no connection should be attempted")

	for i := 0; i < 2; i++ {
		failed, out := h.Exec("echo hi", nil, false)
		assert.True(t, failed)
		assert.Equal(t, BadPromptMessage, out)
	}
	assert.Equal(t, connector.PromptCompileError, connector.KindOf(h.Error()))
	assert.Contains(t, e.out.String(), "ERROR: Bad optional prompt")
}

func TestDialFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind connector.ErrorKind
	}{
		{
			name: "address",
			err:  connector.Errorf(connector.AddressInvalid, "Invalid ip address: bad"),
			kind: connector.AddressInvalid,
		},
		{
			name: "tcp",
			err:  connector.Errorf(connector.TransportError, "Tcp connection error: refused"),
			kind: connector.TransportError,
		},
		{
			name: "auth",
			err:  connector.Errorf(connector.AuthError, "Authentication error: denied"),
			kind: connector.AuthError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(nil)
			e.dialer.Err = tt.err

			h := Start(context.Background(), e.config())
			defer h.Close()

			assert.Equal(t, Failed, h.State())
			assert.Equal(t, tt.kind, connector.KindOf(h.Error()))

			failed, msg := h.Exec("ls", nil, false)
			assert.True(t, failed)
			assert.Equal(t, tt.err.Error(), msg)

			assert.False(t, h.SetPrompt(`\$`))
			failed, msg = h.SendFile("a", "b")
			assert.True(t, failed)
			assert.Equal(t, tt.err.Error(), msg)

			want := "⊙ | CONNECT SSH SIMPLE : 10.0.0.1:22 root ******\n  | ERROR: " + tt.err.Error() + "\n"
			assert.Contains(t, e.out.String(), want)
		})
	}
}

func TestBadPromptOverride(t *testing.T) {
	e := newEnv(map[string]string{"echo hi": "hi\r\n"})
	h := e.start(t)

	failed, msg := h.Exec("echo hi", ptr("BADREGEX("), false)
	assert.True(t, failed)
	assert.Equal(t, "Incorrect prompt regexp 'BADREGEX('", msg)
	assert.False(t, h.IsError(), "a bad override must not fail the session")
	assert.NotContains(t, e.transport.Shell.Received(), "echo hi")

	failed, out := h.Exec("echo hi", nil, false)
	assert.False(t, failed)
	assert.Equal(t, "hi\r\n", out)
}

func TestPromptOverride(t *testing.T) {
	e := newEnv(map[string]string{"passwd": "New password: "})
	h := e.start(t)

	failed, out := h.Exec("passwd", ptr(`password: `), true)
	assert.False(t, failed)
	assert.Equal(t, "New password: ", out)
	assert.Contains(t, e.out.String(), "⊙ | EXEC : passwd / password:  / Hold\n")
}

func TestSetPrompt(t *testing.T) {
	e := newEnv(map[string]string{"id": "uid=0(root)\r\n"})
	h := e.start(t)

	_, before := h.Exec("id", nil, false)

	assert.True(t, h.SetPrompt(`trs-[0-9a-f]+> `))
	assert.True(t, h.SetPrompt(`trs-[0-9a-f]+> `))

	failed, after := h.Exec("id", nil, false)
	assert.False(t, failed)
	assert.Equal(t, before, after)

	assert.False(t, h.SetPrompt("("))
	assert.Contains(t, e.out.String(), "⊙ | SET PROMPT : (\n  | ERROR: Incorrect prompt regexp '('\n")

	// The old pattern is still in effect
	failed, after = h.Exec("id", nil, false)
	assert.False(t, failed)
	assert.Equal(t, before, after)
}

func TestSendFile(t *testing.T) {
	e := newEnv(nil)
	h := e.start(t)

	data := bytes.Repeat([]byte("0123456789"), 7000)
	src := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(src, data, 0o600))

	failed, msg := h.SendFile(src, "/tmp/payload.bin")
	assert.False(t, failed)
	assert.Empty(t, msg)

	got, ok := e.transport.File("/tmp/payload.bin")
	require.True(t, ok)
	assert.Equal(t, string(data), got)

	out := e.out.String()
	assert.Contains(t, out, fmt.Sprintf("⊙ | SEND FILE : %s -> /tmp/payload.bin\n", src))
	assert.Contains(t, out, "] 70000/70000")
	assert.Contains(t, out, "["+strings.Repeat("#", 50)+"]")
}

func TestSendEmptyFile(t *testing.T) {
	e := newEnv(nil)
	h := e.start(t)

	src := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(src, nil, 0o600))

	failed, _ := h.SendFile(src, "/tmp/empty")
	assert.False(t, failed)
	assert.Contains(t, e.out.String(), "["+strings.Repeat("#", 50)+"] 0/0")
}

func TestSendFileFailures(t *testing.T) {
	e := newEnv(nil)
	h := e.start(t)

	failed, msg := h.SendFile(filepath.Join(t.TempDir(), "missing"), "/tmp/x")
	assert.True(t, failed)
	assert.True(t, strings.HasPrefix(msg, "Unable to open source file: "), msg)

	src := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o600))
	failed, msg = h.SendFile(src, "/readonly/x")
	assert.True(t, failed)
	assert.True(t, strings.HasPrefix(msg, "Unable to open dest file: "), msg)

	assert.NotContains(t, e.out.String(), "  | [", "no progress before both ends are open")
	assert.False(t, h.IsError())
}

func TestClose(t *testing.T) {
	e := newEnv(nil)
	h := Start(context.Background(), e.config())
	require.False(t, h.IsError())

	h.Close()
	h.Close()

	assert.Equal(t, Closed, h.State())
	assert.True(t, e.transport.Closed())

	failed, msg := h.Exec("ls", nil, false)
	assert.True(t, failed)
	assert.Equal(t, unknownError, msg)
}

func TestShellGone(t *testing.T) {
	e := newEnv(nil)
	h := e.start(t)

	failed, msg := h.Exec("die", nil, false)
	assert.True(t, failed)
	assert.Contains(t, msg, "Unable to read shell output")

	assert.Equal(t, Failed, h.State())
	assert.Equal(t, connector.ChannelUnavailable, connector.KindOf(h.Error()))

	failed, again := h.Exec("ls", nil, false)
	assert.True(t, failed)
	assert.Equal(t, msg, again)
}

func TestReadTimeout(t *testing.T) {
	e := newEnv(map[string]string{"slow": "late output\r\n", "ls": "a\r\n"})
	e.transport.Shell.Delays = map[string]time.Duration{"slow": 300 * time.Millisecond}
	cfg := e.config()
	cfg.ReadTimeout = 100 * time.Millisecond

	h := Start(context.Background(), cfg)
	defer h.Close()
	require.False(t, h.IsError())

	failed, msg := h.Exec("slow", nil, false)
	assert.True(t, failed)
	assert.Contains(t, msg, "Prompt not found")
	assert.Equal(t, Idle, h.State())

	// The late output must not leak into the next command
	failed, out := h.Exec("ls", nil, false)
	assert.False(t, failed)
	assert.Equal(t, "a\r\n", out)
}

func TestReadTimeoutCustomPrompt(t *testing.T) {
	e := newEnv(map[string]string{"ls": "a\r\n"})
	cfg := e.config()
	cfg.ReadTimeout = 50 * time.Millisecond

	h := Start(context.Background(), cfg)
	defer h.Close()
	require.False(t, h.IsError())

	require.True(t, h.SetPrompt(`# $`))

	failed, msg := h.Exec("hang", nil, false)
	assert.True(t, failed)
	assert.Contains(t, msg, "Prompt not found")

	assert.Equal(t, Failed, h.State())
	assert.Equal(t, connector.ChannelUnavailable, connector.KindOf(h.Error()))
}

func TestAuthenticatingTraced(t *testing.T) {
	e := newEnv(nil)

	traced := false
	cfg := e.config()
	cfg.Dialer = dialFunc(func(ctx context.Context, addr string, auth connector.Auth) (connector.Transport, error) {
		traced = connector.ContextTrace(ctx) != nil
		return e.dialer.Dial(ctx, addr, auth)
	})

	h := Start(context.Background(), cfg)
	defer h.Close()

	assert.True(t, traced, "dialer should receive a trace")
	assert.Equal(t, Idle, h.State())
}

type dialFunc func(ctx context.Context, addr string, auth connector.Auth) (connector.Transport, error)

func (f dialFunc) Dial(ctx context.Context, addr string, auth connector.Auth) (connector.Transport, error) {
	return f(ctx, addr, auth)
}

func TestConcurrentSessionsDoNotInterleave(t *testing.T) {
	out := &bytes.Buffer{}
	c := console.New(out)
	c.SetColor(false)
	shared := console.NewShared(c)

	outputs := map[string]string{"seq": "1\r\n2\r\n3\r\n"}
	var handles []*Handle
	for i := 0; i < 2; i++ {
		e := newEnv(outputs)
		e.console = shared
		cfg := e.config()
		cfg.Addr = fmt.Sprintf("10.0.0.%d:22", i+1)
		h := Start(context.Background(), cfg)
		require.False(t, h.IsError())
		defer h.Close()
		handles = append(handles, h)
	}

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				failed, got := h.Exec("seq", nil, false)
				assert.False(t, failed)
				assert.Equal(t, "1\r\n2\r\n3\r\n", got)
			}
		}(h)
	}
	wg.Wait()

	for _, line := range strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n") {
		switch line {
		case "⊙ | CONNECT SSH SIMPLE : 10.0.0.1:22 root ******", "⊙ | EXEC : seq":
		default:
			t.Errorf("interleaved console line %q", line)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Connecting, "connecting"},
		{Authenticating, "authenticating"},
		{ShellReady, "shell-ready"},
		{Idle, "idle"},
		{Executing, "executing"},
		{Closed, "closed"},
		{Failed, "failed"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
