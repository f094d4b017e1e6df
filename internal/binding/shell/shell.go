// Package shell provides the bindings that drive an open connection.
package shell

import (
	"context"

	"github.com/eugenetaranov/trs/internal/binding"
	"github.com/eugenetaranov/trs/pkg/facts"
)

func init() {
	binding.Register(&Exec{})
	binding.Register(&SetPrompt{})
	binding.Register(&IsError{})
	binding.Register(&GetError{})
	binding.Register(&GatherFacts{})
}

// Exec runs a command in the shell of a connection.
type Exec struct{}

// Name returns the binding identifier.
func (b *Exec) Name() string {
	return "exec"
}

// Call runs the command and returns its output.
//
// Parameters:
//   - conn (connection, required): Connection to run on
//   - cmd (string, required): Command line to send
//   - prompt (string): Regular expression that ends the output instead of
//     the connection prompt
//   - with_prompt (bool): Keep the matched prompt in the output (default: false)
func (b *Exec) Call(ctx context.Context, rt binding.Runtime, params map[string]any) (*binding.Result, error) {
	h, err := binding.RequireConn(params)
	if err != nil {
		return nil, err
	}
	cmd, err := binding.RequireString(params, "cmd")
	if err != nil {
		return nil, err
	}
	withPrompt, err := binding.GetBool(params, "with_prompt", false)
	if err != nil {
		return nil, err
	}

	failed, out := h.Exec(cmd, binding.OptionalString(params, "prompt"), withPrompt)
	return &binding.Result{Error: failed, Out: out}, nil
}

// SetPrompt replaces the prompt of a connection.
type SetPrompt struct{}

// Name returns the binding identifier.
func (b *SetPrompt) Name() string {
	return "set_prompt"
}

// Call compiles and installs the prompt. The result value is true on success.
//
// Parameters:
//   - conn (connection, required): Connection to change
//   - prompt (string, required): Regular expression
func (b *SetPrompt) Call(ctx context.Context, rt binding.Runtime, params map[string]any) (*binding.Result, error) {
	h, err := binding.RequireConn(params)
	if err != nil {
		return nil, err
	}
	prompt, err := binding.RequireString(params, "prompt")
	if err != nil {
		return nil, err
	}

	ok := h.SetPrompt(prompt)
	r := binding.Value(ok)
	if !ok {
		r.Error = true
		r.Out = "Incorrect prompt regexp '" + prompt + "'"
	}
	return r, nil
}

// IsError reports whether a connection has failed.
type IsError struct{}

// Name returns the binding identifier.
func (b *IsError) Name() string {
	return "is_error"
}

// ShortParam makes "is_error: web" name the connection.
func (b *IsError) ShortParam() string {
	return "conn"
}

// Call returns the error state as the result value.
func (b *IsError) Call(ctx context.Context, rt binding.Runtime, params map[string]any) (*binding.Result, error) {
	h, err := binding.RequireConn(params)
	if err != nil {
		return nil, err
	}
	return binding.Value(h.IsError()), nil
}

// GetError returns the stored error of a connection.
type GetError struct{}

// Name returns the binding identifier.
func (b *GetError) Name() string {
	return "get_error"
}

// ShortParam makes "get_error: web" name the connection.
func (b *GetError) ShortParam() string {
	return "conn"
}

// Call returns the error message, if any, as the result value.
func (b *GetError) Call(ctx context.Context, rt binding.Runtime, params map[string]any) (*binding.Result, error) {
	h, err := binding.RequireConn(params)
	if err != nil {
		return nil, err
	}
	msg, ok := h.Err()
	if !ok {
		return binding.OK(""), nil
	}
	return &binding.Result{Out: msg, Value: msg}, nil
}

// GatherFacts collects system information from a connection.
type GatherFacts struct{}

// Name returns the binding identifier.
func (b *GatherFacts) Name() string {
	return "gather_facts"
}

// ShortParam makes "gather_facts: web" name the connection.
func (b *GatherFacts) ShortParam() string {
	return "conn"
}

// Call runs the fact commands and returns the facts as the result value,
// for example {{ web_facts.os_family }}.
func (b *GatherFacts) Call(ctx context.Context, rt binding.Runtime, params map[string]any) (*binding.Result, error) {
	h, err := binding.RequireConn(params)
	if err != nil {
		return nil, err
	}
	if msg, failed := h.Err(); failed {
		return binding.Failed(msg), nil
	}
	return binding.Value(facts.Gather(h)), nil
}

// Ensure the bindings implement binding.Binding.
var (
	_ binding.Binding = (*Exec)(nil)
	_ binding.Binding = (*SetPrompt)(nil)
	_ binding.Binding = (*IsError)(nil)
	_ binding.Binding = (*GetError)(nil)
	_ binding.Binding = (*GatherFacts)(nil)
)
