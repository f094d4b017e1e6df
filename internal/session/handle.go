package session

import (
	"sync"

	"github.com/eugenetaranov/trs/internal/connector"
)

// unknownError is reported when the actor is gone and no error was stored.
const unknownError = "Unknown error"

// Handle is the caller's side of a session. Each call is one round trip
// to the actor; calls from several goroutines are serialized.
type Handle struct {
	id   string
	addr string

	requests chan<- Command
	replies  <-chan Response
	done     <-chan struct{}

	// call serializes round trips
	call sync.Mutex

	mu    sync.Mutex
	state State
	err   error

	closeOnce sync.Once
}

// ID returns the unique id of the session.
func (h *Handle) ID() string {
	return h.id
}

// Addr returns the target the session was opened for.
func (h *Handle) Addr() string {
	return h.addr
}

// State returns the current lifecycle stage.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the stored session error, if any.
func (h *Handle) Err() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err == nil {
		return "", false
	}
	return h.err.Error(), true
}

// Error returns the stored session error as an error value.
func (h *Handle) Error() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// IsError reports whether a session error was stored.
func (h *Handle) IsError() bool {
	_, ok := h.Err()
	return ok
}

// Exec runs cmd and returns its output. prompt, when not nil, replaces the
// session prompt for this command. withPrompt keeps the matched prompt in
// the output.
func (h *Handle) Exec(cmd string, prompt *string, withPrompt bool) (bool, string) {
	c := ExecCommand{Text: cmd, Prompt: prompt, WithPrompt: withPrompt}
	resp, ok := h.roundTrip(c)
	if !ok {
		return true, h.unreachable()
	}

	switch r := resp.(type) {
	case TextResponse:
		return false, r.Text
	case FailureResponse:
		return true, r.Message
	default:
		panic(misuse(c, resp))
	}
}

// SendFile copies the local file source to dest on the target. It returns
// (false, "") on success.
func (h *Handle) SendFile(source, dest string) (bool, string) {
	c := SendFileCommand{Source: source, Dest: dest}
	resp, ok := h.roundTrip(c)
	if !ok {
		return true, h.unreachable()
	}

	switch r := resp.(type) {
	case BoolResponse:
		if r.Value {
			return false, ""
		}
		return true, unknownError
	case FailureResponse:
		return true, r.Message
	default:
		panic(misuse(c, resp))
	}
}

// SetPrompt replaces the session prompt. It returns false if pattern does
// not compile or the session is gone.
func (h *Handle) SetPrompt(pattern string) bool {
	c := SetPromptCommand{Pattern: pattern}
	resp, ok := h.roundTrip(c)
	if !ok {
		return false
	}

	switch r := resp.(type) {
	case BoolResponse:
		return r.Value
	case FailureResponse:
		return false
	default:
		panic(misuse(c, resp))
	}
}

// Close stops the session and waits for the actor to release the shell and
// transport. It is safe to call more than once.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.call.Lock()
		defer h.call.Unlock()

		select {
		case h.requests <- CloseCommand{}:
		case <-h.done:
		}
		<-h.done
	})
}

// roundTrip sends c and waits for the reply. It returns false if the actor
// has exited.
func (h *Handle) roundTrip(c Command) (Response, bool) {
	h.call.Lock()
	defer h.call.Unlock()

	select {
	case h.requests <- c:
	case <-h.done:
		return nil, false
	}

	select {
	case r := <-h.replies:
		return r, true
	case <-h.done:
		// The actor may reply right before it exits
		select {
		case r := <-h.replies:
			return r, true
		default:
			return nil, false
		}
	}
}

func (h *Handle) unreachable() string {
	if msg, ok := h.Err(); ok {
		return msg
	}
	return unknownError
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.state.Terminal() {
		h.state = s
	}
}

// fail stores err and moves the session to Failed. The first error wins.
func (h *Handle) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err == nil {
		h.err = err
	}
	h.state = Failed
}

func misuse(c Command, resp Response) error {
	return connector.Errorf(connector.ProtocolMisuse, "unexpected response %T to %s", resp, c)
}
