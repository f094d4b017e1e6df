package connector

import "context"

// Trace holds hooks called while a connection is set up.
type Trace struct {
	// Authenticating is called once the target has been reached and
	// credentials are about to be checked.
	Authenticating func()
}

type traceKey struct{}

// WithTrace returns a context that carries t.
func WithTrace(ctx context.Context, t *Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

// ContextTrace returns the Trace carried by ctx, or nil.
func ContextTrace(ctx context.Context) *Trace {
	t, _ := ctx.Value(traceKey{}).(*Trace)
	return t
}

// OnAuthenticating calls the Authenticating hook of the trace in ctx, if any.
func OnAuthenticating(ctx context.Context) {
	if t := ContextTrace(ctx); t != nil && t.Authenticating != nil {
		t.Authenticating()
	}
}
