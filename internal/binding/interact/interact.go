// Package interact provides the bindings that talk to the user.
package interact

import (
	"context"

	"github.com/eugenetaranov/trs/internal/binding"
)

func init() {
	binding.Register(&Print{})
	binding.Register(&Read{})
	binding.Register(&ReadPass{})
}

// Print writes a line to the console.
type Print struct{}

// Name returns the binding identifier.
func (b *Print) Name() string { return "print" }

// ShortParam makes "print: hello" set the text.
func (b *Print) ShortParam() string { return "text" }

// Call prints the text parameter.
func (b *Print) Call(ctx context.Context, rt binding.Runtime, params map[string]any) (*binding.Result, error) {
	text := binding.GetString(params, "text", "")
	rt.Print(text)
	return binding.OK(text), nil
}

// Read asks the user for a line of input.
type Read struct{}

// Name returns the binding identifier.
func (b *Read) Name() string { return "read" }

// ShortParam makes "read: Name?" set the prompt.
func (b *Read) ShortParam() string { return "prompt" }

// Call reads the input. The result value is the text read.
func (b *Read) Call(ctx context.Context, rt binding.Runtime, params map[string]any) (*binding.Result, error) {
	in, err := rt.Read(binding.GetString(params, "prompt", ""))
	if err != nil {
		return nil, err
	}
	return &binding.Result{Out: in, Value: in}, nil
}

// ReadPass asks the user for a secret.
type ReadPass struct{}

// Name returns the binding identifier.
func (b *ReadPass) Name() string { return "read_pass" }

// ShortParam makes "read_pass: Password?" set the prompt.
func (b *ReadPass) ShortParam() string { return "prompt" }

// Call reads the secret without echo. The result value is the text read.
func (b *ReadPass) Call(ctx context.Context, rt binding.Runtime, params map[string]any) (*binding.Result, error) {
	in, err := rt.ReadPass(binding.GetString(params, "prompt", ""))
	if err != nil {
		return nil, err
	}
	return &binding.Result{Out: in, Value: in}, nil
}

// Ensure the bindings implement binding.Binding.
var (
	_ binding.Binding = (*Print)(nil)
	_ binding.Binding = (*Read)(nil)
	_ binding.Binding = (*ReadPass)(nil)
)
