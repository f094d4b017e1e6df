// Package connector defines how sessions reach an interactive shell on a target.
package connector

import (
	"context"
	"io"
	"os"
	"time"
)

// DefaultTimeout bounds opening the transport to a target.
const DefaultTimeout = 10 * time.Second

// Auth holds the credentials used once while a connection is set up.
// It is implemented by PasswordAuth and KeyAuth.
type Auth interface {
	// Username returns the login name.
	Username() string

	isAuth()
}

// PasswordAuth authenticates with a user name and password.
type PasswordAuth struct {
	User     string
	Password string
}

// Username returns the login name.
func (a PasswordAuth) Username() string { return a.User }

func (PasswordAuth) isAuth() {}

// KeyAuth authenticates with a private key file.
type KeyAuth struct {
	User string

	// PrivateKeyPath is the path to the private key.
	PrivateKeyPath string

	// PublicKeyPath optionally names a public key that must match the private key.
	PublicKeyPath string

	// Passphrase decrypts the private key when set.
	Passphrase string
}

// Username returns the login name.
func (a KeyAuth) Username() string { return a.User }

func (KeyAuth) isAuth() {}

// Shell is an interactive shell attached to a pseudo-terminal.
type Shell interface {
	io.Reader
	io.Writer

	// Close terminates the shell.
	Close() error
}

// Transport is an established, authenticated connection to a target.
type Transport interface {
	// OpenShell requests a pseudo-terminal and starts a login shell.
	OpenShell(ctx context.Context) (Shell, error)

	// CreateFile opens a remote file of the given size for writing. The
	// file must already be writable when it returns. Writes go straight to
	// the transport; a nil error from Write means the block was handed over.
	CreateFile(path string, mode os.FileMode, size int64) (io.WriteCloser, error)

	// Close terminates the connection.
	Close() error

	// String returns a human-readable description of the connection.
	String() string
}

// Dialer opens transports to targets.
type Dialer interface {
	// Dial resolves addr, connects, performs the protocol handshake and
	// authenticates. Failures are returned as *Error with the failing stage.
	Dial(ctx context.Context, addr string, auth Auth) (Transport, error)
}
