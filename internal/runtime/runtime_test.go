package runtime

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenetaranov/trs/internal/connector/connectortest"
	"github.com/eugenetaranov/trs/internal/console"
	"github.com/eugenetaranov/trs/internal/outlog"
	"github.com/eugenetaranov/trs/internal/session"
)

func newRegistry(t *testing.T, opts ...Option) (*Registry, *connectortest.Dialer, *bytes.Buffer) {
	t.Helper()

	var out bytes.Buffer
	c := console.New(&out)
	c.SetColor(false)

	d := connectortest.NewDialer(map[string]string{"whoami": "root\r\n"})
	opts = append([]Option{WithSSHDialer(d), WithLocalDialer(d), WithDockerDialer(d)}, opts...)
	r := New(console.NewShared(c), outlog.New(&bytes.Buffer{}), opts...)
	t.Cleanup(r.CloseAll)
	return r, d, &out
}

func ptr(s string) *string { return &s }

func TestConnectPassword(t *testing.T) {
	r, d, out := newRegistry(t)

	h := r.ConnectPassword("10.0.0.1:22", "root", "secret", nil)
	require.False(t, h.IsError())

	failed, got := h.Exec("whoami", nil, false)
	assert.False(t, failed)
	assert.Equal(t, "root\r\n", got)

	assert.Equal(t, []string{"10.0.0.1:22"}, d.Dials())
	assert.Contains(t, out.String(), "⊙ | CONNECT SSH SIMPLE : 10.0.0.1:22 root ******\n")
	assert.NotContains(t, out.String(), "secret")
}

func TestConnectKey(t *testing.T) {
	r, _, out := newRegistry(t)

	h := r.ConnectKey("10.0.0.1:22", "deploy", "/keys/id_ed25519", nil, ptr("pass"), nil)
	require.False(t, h.IsError())
	assert.Contains(t, out.String(), "⊙ | CONNECT SSH KEY : 10.0.0.1:22 deploy /keys/id_ed25519\n")
}

func TestConnectLocalAndDocker(t *testing.T) {
	r, d, out := newRegistry(t)

	require.False(t, r.ConnectLocal(nil).IsError())
	require.False(t, r.ConnectDocker("web-1", nil).IsError())

	assert.Equal(t, []string{"localhost", "web-1"}, d.Dials())
	assert.Contains(t, out.String(), "⊙ | CONNECT LOCAL : localhost\n")
	assert.Contains(t, out.String(), "⊙ | CONNECT DOCKER : web-1\n")
}

func TestConnectPrompt(t *testing.T) {
	t.Run("custom", func(t *testing.T) {
		r, _, _ := newRegistry(t)
		h := r.ConnectPassword("10.0.0.1:22", "root", "pw", ptr(`\$ $`))
		assert.False(t, h.IsError())
	})

	t.Run("unparsable", func(t *testing.T) {
		r, d, _ := newRegistry(t)
		h := r.ConnectPassword("10.0.0.1:22", "root", "pw", ptr("("))

		msg, ok := h.Err()
		assert.True(t, ok)
		assert.Equal(t, session.BadPromptMessage, msg)
		assert.Empty(t, d.Dials())

		failed, out := h.Exec("ls", nil, false)
		assert.True(t, failed)
		assert.Equal(t, session.BadPromptMessage, out)
	})

	t.Run("registry default", func(t *testing.T) {
		r, _, _ := newRegistry(t, WithDefaultPrompt(regexp.MustCompile(`\$ `)))
		assert.False(t, r.ConnectLocal(nil).IsError())
	})
}

func TestCloseAllReverseOrder(t *testing.T) {
	r, d, _ := newRegistry(t)

	var mu sync.Mutex
	var closed []string
	d.New = func(addr string) *connectortest.Transport {
		tr := connectortest.NewTransport(connectortest.NewShell("", "$ ", nil))
		tr.OnClose = func() {
			mu.Lock()
			closed = append(closed, addr)
			mu.Unlock()
		}
		return tr
	}

	for _, addr := range []string{"a:22", "b:22", "c:22"} {
		require.False(t, r.ConnectPassword(addr, "u", "p", nil).IsError())
	}
	assert.Len(t, r.Connections(), 3)

	r.CloseAll()
	r.CloseAll()

	assert.Equal(t, []string{"c:22", "b:22", "a:22"}, closed)
	assert.Empty(t, r.Connections())
}

func TestCloseAllSkipsFailed(t *testing.T) {
	r, _, _ := newRegistry(t)

	h := r.ConnectPassword("10.0.0.1:22", "root", "pw", ptr("("))
	r.CloseAll()
	assert.Equal(t, session.Failed, h.State())
}

func TestConnectAfterCloseAll(t *testing.T) {
	r, d, _ := newRegistry(t)

	released := false
	d.New = func(addr string) *connectortest.Transport {
		tr := connectortest.NewTransport(connectortest.NewShell("", "$ ", nil))
		tr.OnClose = func() { released = true }
		return tr
	}

	r.CloseAll()
	h := r.ConnectPassword("10.0.0.1:22", "root", "pw", nil)

	assert.Equal(t, session.Closed, h.State())
	assert.True(t, released)
	assert.Empty(t, r.Connections())
}

func TestRead(t *testing.T) {
	r, _, out := newRegistry(t, WithInput(strings.NewReader("alice\r\nbob")))

	name, err := r.Read("Name: ")
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	name, err = r.Read("Name: ")
	require.NoError(t, err)
	assert.Equal(t, "bob", name)

	_, err = r.Read("Name: ")
	assert.Error(t, err)

	assert.True(t, strings.HasPrefix(out.String(), "  | <- Name: "))
}

func TestReadPass(t *testing.T) {
	r, _, out := newRegistry(t, WithPasswordReader(func() (string, error) {
		return "hunter2", nil
	}))

	pass, err := r.ReadPass("Password: ")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pass)
	assert.Equal(t, "  | <- Password: ", out.String())

	r2, _, _ := newRegistry(t, WithPasswordReader(func() (string, error) {
		return "", errors.New("no tty")
	}))
	_, err = r2.ReadPass("Password: ")
	assert.ErrorContains(t, err, "no tty")
}

func TestPrint(t *testing.T) {
	r, _, out := newRegistry(t)
	r.Print("hello")
	assert.Equal(t, "  | -> hello\n", out.String())
}
