package session

// State is the lifecycle stage of a session.
type State int

const (
	// Connecting covers address validation and opening the transport.
	Connecting State = iota

	// Authenticating covers the credential exchange.
	Authenticating

	// ShellReady means the shell is open and the prompt is being set up.
	ShellReady

	// Idle means the session waits for a command.
	Idle

	// Executing means a command is being processed.
	Executing

	// Closed means the session was closed by the caller.
	Closed

	// Failed means setup or the shell channel failed. The error is kept
	// in the handle.
	Failed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case ShellReady:
		return "shell-ready"
	case Idle:
		return "idle"
	case Executing:
		return "executing"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further commands can run.
func (s State) Terminal() bool {
	return s == Closed || s == Failed
}
