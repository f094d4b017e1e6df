// Package connect provides the bindings that open connections.
package connect

import (
	"context"

	"github.com/eugenetaranov/trs/internal/binding"
	"github.com/eugenetaranov/trs/internal/session"
)

func init() {
	binding.Register(&SSHSimple{})
	binding.Register(&SSHKey{})
	binding.Register(&Local{})
	binding.Register(&Docker{})
}

// SSHSimple opens an SSH connection with a user name and password.
type SSHSimple struct{}

// Name returns the binding identifier.
func (b *SSHSimple) Name() string {
	return "connect_ssh_simple"
}

// Call opens the connection.
//
// Parameters:
//   - addr (string, required): Target as host:port
//   - user (string, required): Login name
//   - password (string, required): Login password
//   - prompt (string): Regular expression matching the initial shell prompt
func (b *SSHSimple) Call(ctx context.Context, rt binding.Runtime, params map[string]any) (*binding.Result, error) {
	addr, err := binding.RequireString(params, "addr")
	if err != nil {
		return nil, err
	}
	user, err := binding.RequireString(params, "user")
	if err != nil {
		return nil, err
	}
	password := binding.GetString(params, "password", "")

	h := rt.ConnectPassword(addr, user, password, binding.OptionalString(params, "prompt"))
	return result(h), nil
}

// SSHKey opens an SSH connection with a private key.
type SSHKey struct{}

// Name returns the binding identifier.
func (b *SSHKey) Name() string {
	return "connect_ssh_key"
}

// Call opens the connection.
//
// Parameters:
//   - addr (string, required): Target as host:port
//   - user (string, required): Login name
//   - private_key (string, required): Path to the private key
//   - prompt (string): Regular expression matching the initial shell prompt
//   - passphrase (string): Passphrase of the private key
//   - public_key (string): Path to the matching public key
func (b *SSHKey) Call(ctx context.Context, rt binding.Runtime, params map[string]any) (*binding.Result, error) {
	addr, err := binding.RequireString(params, "addr")
	if err != nil {
		return nil, err
	}
	user, err := binding.RequireString(params, "user")
	if err != nil {
		return nil, err
	}
	key, err := binding.RequireString(params, "private_key")
	if err != nil {
		return nil, err
	}

	h := rt.ConnectKey(addr, user, key,
		binding.OptionalString(params, "prompt"),
		binding.OptionalString(params, "passphrase"),
		binding.OptionalString(params, "public_key"))
	return result(h), nil
}

// Local opens a shell on the machine running the script.
type Local struct{}

// Name returns the binding identifier.
func (b *Local) Name() string {
	return "connect_local"
}

// ShortParam makes "connect_local: <prompt>" set the prompt.
func (b *Local) ShortParam() string {
	return "prompt"
}

// Call opens the shell.
//
// Parameters:
//   - prompt (string): Regular expression matching the initial shell prompt
func (b *Local) Call(ctx context.Context, rt binding.Runtime, params map[string]any) (*binding.Result, error) {
	return result(rt.ConnectLocal(binding.OptionalString(params, "prompt"))), nil
}

// Docker opens a shell in a running container.
type Docker struct{}

// Name returns the binding identifier.
func (b *Docker) Name() string {
	return "connect_docker"
}

// ShortParam makes "connect_docker: <name>" select the container.
func (b *Docker) ShortParam() string {
	return "container"
}

// Call opens the shell.
//
// Parameters:
//   - container (string, required): Container name or id
//   - prompt (string): Regular expression matching the initial shell prompt
func (b *Docker) Call(ctx context.Context, rt binding.Runtime, params map[string]any) (*binding.Result, error) {
	container, err := binding.RequireString(params, "container")
	if err != nil {
		return nil, err
	}
	return result(rt.ConnectDocker(container, binding.OptionalString(params, "prompt"))), nil
}

// result carries the handle even when setup failed, so scripts can inspect
// it with is_error and get_error.
func result(h *session.Handle) *binding.Result {
	msg, failed := h.Err()
	return &binding.Result{Error: failed, Out: msg, Value: h}
}

// Ensure the bindings implement binding.Binding.
var (
	_ binding.Binding = (*SSHSimple)(nil)
	_ binding.Binding = (*SSHKey)(nil)
	_ binding.Binding = (*Local)(nil)
	_ binding.Binding = (*Docker)(nil)
)
