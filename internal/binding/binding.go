// Package binding defines the functions a script can call and keeps a
// registry of them.
package binding

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/eugenetaranov/trs/internal/session"
)

// Runtime is what bindings act on. It is implemented by *runtime.Registry.
type Runtime interface {
	ConnectPassword(addr, user, password string, prompt *string) *session.Handle
	ConnectKey(addr, user, privateKey string, prompt, passphrase, publicKey *string) *session.Handle
	ConnectLocal(prompt *string) *session.Handle
	ConnectDocker(container string, prompt *string) *session.Handle

	Print(text string)
	Read(prompt string) (string, error)
	ReadPass(prompt string) (string, error)
}

// Result holds the outcome of a binding call.
type Result struct {
	// Error is the error flag seen by the script.
	Error bool

	// Out is the text result or error message.
	Out string

	// Value is the native result, such as a connection or a flag. When
	// set, it is what a step registers.
	Value any
}

// Binding is a function exposed to scripts.
type Binding interface {
	// Name returns the name scripts call the binding by.
	Name() string

	// Call runs the binding. A returned error means the call itself was
	// malformed; failures of the operation are reported in the Result.
	Call(ctx context.Context, rt Runtime, params map[string]any) (*Result, error)
}

// ShortParam is implemented by bindings that accept a bare value, as in
// "print: hello". It names the parameter the value is assigned to.
type ShortParam interface {
	ShortParam() string
}

var (
	registry   = make(map[string]Binding)
	registryMu sync.RWMutex
)

// Register adds a binding to the registry.
// It panics if a binding with the same name is already registered.
func Register(b Binding) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := b.Name()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("binding %q is already registered", name))
	}
	registry[name] = b
}

// Get returns the binding called name, or nil.
func Get(name string) Binding {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[name]
}

// List returns the names of all registered bindings, sorted.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OK creates a successful Result.
func OK(out string) *Result {
	return &Result{Out: out}
}

// Failed creates a Result with the error flag set.
func Failed(msg string) *Result {
	return &Result{Error: true, Out: msg}
}

// Value creates a successful Result carrying v.
func Value(v any) *Result {
	return &Result{Value: v}
}
