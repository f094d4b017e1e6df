package console

import (
	"fmt"
	"io"
)

// Silent prints only errors and script output, without formatting.
type Silent struct {
	w io.Writer
}

// NewSilent creates a silent renderer writing to w.
func NewSilent(w io.Writer) *Silent {
	return &Silent{w: w}
}

func (s *Silent) BeginLine(title, body string)               {}
func (s *Silent) BeginProgress(title, body, barTitle string) {}
func (s *Silent) SetProgress(percent float32) error          { return nil }
func (s *Silent) UpdateBarTitle(text string) error           { return nil }
func (s *Silent) Complete() error                            { return nil }

// Error prints "ERROR: text".
func (s *Silent) Error(text string) {
	fmt.Fprintf(s.w, "ERROR: %s\n", text)
}

// PrintLine prints text as is.
func (s *Silent) PrintLine(text string) {
	fmt.Fprintln(s.w, text)
}

// PrintReadPrompt prints the prompt on its own line.
func (s *Silent) PrintReadPrompt(text string) {
	fmt.Fprintln(s.w, text)
}

var _ Reporter = (*Silent)(nil)
