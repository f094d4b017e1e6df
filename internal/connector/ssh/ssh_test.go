package ssh

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"

	"github.com/eugenetaranov/trs/internal/connector"
	"github.com/eugenetaranov/trs/internal/scanner"
)

// testServer is an in-process SSH server with an echo shell and an scp sink.
type testServer struct {
	addr       string
	authorized gossh.PublicKey

	mu    sync.Mutex
	files map[string][]byte
	modes map[string]uint32
}

func startServer(t *testing.T) *testServer {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := gossh.NewSignerFromKey(hostKey)
	require.NoError(t, err)

	s := &testServer{
		files: make(map[string][]byte),
		modes: make(map[string]uint32),
	}

	config := &gossh.ServerConfig{
		PasswordCallback: func(c gossh.ConnMetadata, pass []byte) (*gossh.Permissions, error) {
			if c.User() == "trs" && string(pass) == "secret" {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %s", c.User())
		},
		PublicKeyCallback: func(c gossh.ConnMetadata, key gossh.PublicKey) (*gossh.Permissions, error) {
			if s.authorized != nil && string(key.Marshal()) == string(s.authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown key")
		},
	}
	config.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	s.addr = ln.Addr().String()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn, config)
		}
	}()

	return s
}

func (s *testServer) serve(nc net.Conn, config *gossh.ServerConfig) {
	_, chans, reqs, err := gossh.NewServerConn(nc, config)
	if err != nil {
		nc.Close()
		return
	}
	go gossh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(gossh.UnknownChannelType, "session only")
			continue
		}
		ch, creqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go s.session(ch, creqs)
	}
}

func (s *testServer) session(ch gossh.Channel, reqs <-chan *gossh.Request) {
	for req := range reqs {
		switch req.Type {
		case "pty-req", "env":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			go func() {
				_, _ = io.Copy(ch, ch)
				ch.Close()
			}()
		case "exec":
			var payload struct{ Command string }
			_ = gossh.Unmarshal(req.Payload, &payload)
			_ = req.Reply(true, nil)
			go s.scpSink(ch, payload.Command)
		default:
			_ = req.Reply(false, nil)
		}
	}
}

func (s *testServer) scpSink(ch gossh.Channel, cmd string) {
	defer ch.Close()

	dest := strings.Trim(strings.TrimPrefix(cmd, "scp -qt "), "'")
	r := bufio.NewReader(ch)

	_, _ = ch.Write([]byte{0})
	header, err := r.ReadString('\n')
	if err != nil {
		return
	}
	var mode uint32
	var size int64
	var name string
	if _, err := fmt.Sscanf(header, "C%o %d %s", &mode, &size, &name); err != nil {
		_, _ = ch.Write([]byte("\x02bad header\n"))
		return
	}
	_, _ = ch.Write([]byte{0})

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return
	}
	if b, err := r.ReadByte(); err != nil || b != 0 {
		return
	}
	_, _ = ch.Write([]byte{0})

	s.mu.Lock()
	s.files[dest] = data
	s.modes[dest] = mode
	s.mu.Unlock()

	_, _ = ch.SendRequest("exit-status", false, gossh.Marshal(struct{ Status uint32 }{0}))
}

func (s *testServer) file(path string) ([]byte, uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	return data, s.modes[path], ok
}

// writeKeyPair writes an ed25519 key pair and returns the file paths.
func writeKeyPair(t *testing.T, passphrase string) (string, string, gossh.PublicKey) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var block *pem.Block
	if passphrase != "" {
		block, err = gossh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	} else {
		block, err = gossh.MarshalPrivateKey(priv, "")
	}
	require.NoError(t, err)

	signer, err := gossh.NewSignerFromKey(priv)
	require.NoError(t, err)

	dir := t.TempDir()
	privPath := filepath.Join(dir, "id_ed25519")
	pubPath := filepath.Join(dir, "id_ed25519.pub")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(block), 0o600))
	require.NoError(t, os.WriteFile(pubPath, gossh.MarshalAuthorizedKey(signer.PublicKey()), 0o644))

	return privPath, pubPath, signer.PublicKey()
}

func TestDialStages(t *testing.T) {
	srv := startServer(t)

	// A port with nothing listening
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedAddr := ln.Addr().String()
	ln.Close()

	// A listener that does not speak SSH
	garbage, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { garbage.Close() })
	go func() {
		for {
			c, err := garbage.Accept()
			if err != nil {
				return
			}
			_, _ = c.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
			c.Close()
		}
	}()

	tests := []struct {
		name   string
		addr   string
		auth   connector.Auth
		kind   connector.ErrorKind
		prefix string
	}{
		{
			name:   "missing port",
			addr:   "127.0.0.1",
			auth:   connector.PasswordAuth{User: "trs", Password: "secret"},
			kind:   connector.AddressInvalid,
			prefix: "Invalid ip address: ",
		},
		{
			name:   "connection refused",
			addr:   closedAddr,
			auth:   connector.PasswordAuth{User: "trs", Password: "secret"},
			kind:   connector.TransportError,
			prefix: "Tcp connection error: ",
		},
		{
			name:   "not an ssh server",
			addr:   garbage.Addr().String(),
			auth:   connector.PasswordAuth{User: "trs", Password: "secret"},
			kind:   connector.HandshakeError,
			prefix: "Handshake error: ",
		},
		{
			name:   "wrong password",
			addr:   srv.addr,
			auth:   connector.PasswordAuth{User: "trs", Password: "nope"},
			kind:   connector.AuthError,
			prefix: "Authentication error: ",
		},
		{
			name:   "missing key file",
			addr:   srv.addr,
			auth:   connector.KeyAuth{User: "trs", PrivateKeyPath: "/nonexistent/key"},
			kind:   connector.AuthError,
			prefix: "Authentication error: ",
		},
	}

	d := New(WithTimeout(2 * time.Second))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := d.Dial(context.Background(), tt.addr, tt.auth)
			require.Error(t, err)
			assert.Nil(t, tr)
			assert.Equal(t, tt.kind, connector.KindOf(err), "error: %v", err)
			assert.True(t, strings.HasPrefix(err.Error(), tt.prefix), "message %q", err.Error())
		})
	}
}

func TestDialPasswordAndShell(t *testing.T) {
	srv := startServer(t)

	tr, err := New().Dial(context.Background(), srv.addr, connector.PasswordAuth{User: "trs", Password: "secret"})
	require.NoError(t, err)
	defer tr.Close()

	assert.Equal(t, "ssh://trs@"+srv.addr, tr.String())

	sh, err := tr.OpenShell(context.Background())
	require.NoError(t, err)
	defer sh.Close()

	_, err = sh.Write([]byte("echo hi\n"))
	require.NoError(t, err)

	out, err := scanner.Read(sh, regexp.MustCompile(`\n`), 0, true)
	require.NoError(t, err)
	assert.Equal(t, "echo hi\n", out)
}

func TestDialKeyAuth(t *testing.T) {
	t.Run("plain key with matching public key", func(t *testing.T) {
		srv := startServer(t)
		priv, pub, key := writeKeyPair(t, "")
		srv.authorized = key

		tr, err := New().Dial(context.Background(), srv.addr, connector.KeyAuth{
			User:           "trs",
			PrivateKeyPath: priv,
			PublicKeyPath:  pub,
		})
		require.NoError(t, err)
		tr.Close()
	})

	t.Run("encrypted key", func(t *testing.T) {
		srv := startServer(t)
		priv, _, key := writeKeyPair(t, "hunter2")
		srv.authorized = key

		tr, err := New().Dial(context.Background(), srv.addr, connector.KeyAuth{
			User:           "trs",
			PrivateKeyPath: priv,
			Passphrase:     "hunter2",
		})
		require.NoError(t, err)
		tr.Close()
	})

	t.Run("mismatched public key", func(t *testing.T) {
		srv := startServer(t)
		priv, _, key := writeKeyPair(t, "")
		_, otherPub, _ := writeKeyPair(t, "")
		srv.authorized = key

		_, err := New().Dial(context.Background(), srv.addr, connector.KeyAuth{
			User:           "trs",
			PrivateKeyPath: priv,
			PublicKeyPath:  otherPub,
		})
		require.Error(t, err)
		assert.Equal(t, connector.AuthError, connector.KindOf(err))
		assert.Contains(t, err.Error(), "does not match")
	})

	t.Run("key not authorized", func(t *testing.T) {
		srv := startServer(t)
		priv, _, _ := writeKeyPair(t, "")

		_, err := New().Dial(context.Background(), srv.addr, connector.KeyAuth{
			User:           "trs",
			PrivateKeyPath: priv,
		})
		require.Error(t, err)
		assert.Equal(t, connector.AuthError, connector.KindOf(err))
	})
}

func TestCreateFileSCP(t *testing.T) {
	srv := startServer(t)

	tr, err := New().Dial(context.Background(), srv.addr, connector.PasswordAuth{User: "trs", Password: "secret"})
	require.NoError(t, err)
	defer tr.Close()

	content := []byte("hello over scp")
	w, err := tr.CreateFile("/tmp/dest.txt", 0o644, int64(len(content)))
	require.NoError(t, err)

	_, err = w.Write(content[:5])
	require.NoError(t, err)
	_, err = w.Write(content[5:])
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, mode, ok := srv.file("/tmp/dest.txt")
	require.True(t, ok, "file was not received")
	assert.Equal(t, content, data)
	assert.Equal(t, uint32(0o644), mode)
}

func TestSCPShortWrite(t *testing.T) {
	srv := startServer(t)

	tr, err := New().Dial(context.Background(), srv.addr, connector.PasswordAuth{User: "trs", Password: "secret"})
	require.NoError(t, err)
	defer tr.Close()

	w, err := tr.CreateFile("/tmp/short.txt", 0o644, 10)
	require.NoError(t, err)

	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Error(t, w.Close())

	_, err = w.Write([]byte("0123456789abc"))
	assert.Error(t, err, "writes past the announced size must fail")
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/tmp/file", "'/tmp/file'"},
		{"/tmp/it's", `'/tmp/it'\''s'`},
		{"", "''"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, shellQuote(tt.in))
	}
}
