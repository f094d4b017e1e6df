package session

import "fmt"

// Command is a request sent from a Handle to its actor.
type Command interface {
	fmt.Stringer
	isCommand()
}

// ExecCommand runs Text in the shell and waits for a prompt.
type ExecCommand struct {
	Text string

	// Prompt overrides the session prompt for this command only.
	Prompt *string

	// WithPrompt keeps the matched prompt in the output.
	WithPrompt bool
}

// SendFileCommand copies a local file to the target.
type SendFileCommand struct {
	Source string
	Dest   string
}

// SetPromptCommand replaces the session prompt.
type SetPromptCommand struct {
	Pattern string
}

// CloseCommand stops the actor. It has no response.
type CloseCommand struct{}

func (ExecCommand) isCommand()      {}
func (SendFileCommand) isCommand()  {}
func (SetPromptCommand) isCommand() {}
func (CloseCommand) isCommand()     {}

func (c ExecCommand) String() string      { return "exec" }
func (c SendFileCommand) String() string  { return "send_file" }
func (c SetPromptCommand) String() string { return "set_prompt" }
func (c CloseCommand) String() string     { return "close" }

// Response is the actor's reply to a Command.
type Response interface {
	isResponse()
}

// TextResponse carries command output.
type TextResponse struct {
	Text string
}

// BoolResponse carries a success flag.
type BoolResponse struct {
	Value bool
}

// FailureResponse carries an error message.
type FailureResponse struct {
	Message string
}

func (TextResponse) isResponse()    {}
func (BoolResponse) isResponse()    {}
func (FailureResponse) isResponse() {}
