package connector

import (
	"errors"
	"fmt"
)

// ErrorKind classifies where a connection or command failed.
type ErrorKind int

const (
	// Unknown is returned by KindOf for errors without a kind.
	Unknown ErrorKind = iota
	AddressInvalid
	TransportError
	HandshakeError
	AuthError
	PromptCompileError
	FileOpenError
	FileIOError
	ChannelUnavailable
	ProtocolMisuse
)

var kindNames = map[ErrorKind]string{
	Unknown:            "unknown",
	AddressInvalid:     "address invalid",
	TransportError:     "transport error",
	HandshakeError:     "handshake error",
	AuthError:          "auth error",
	PromptCompileError: "prompt compile error",
	FileOpenError:      "file open error",
	FileIOError:        "file io error",
	ChannelUnavailable: "channel unavailable",
	ProtocolMisuse:     "protocol misuse",
}

// String returns the kind name.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is a failure tagged with its kind. Its message is shown to the user
// unchanged.
type Error struct {
	Kind ErrorKind
	Err  error
}

// Errorf creates an *Error of the given kind. The format accepts %w.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
