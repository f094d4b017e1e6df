// Package console renders session activity as a feed of titled lines and
// progress bars.
package console

import (
	"fmt"
	"io"
	"strings"
)

// Colors for terminal output.
const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorBold  = "\033[1m"
)

// LineSize is the maximum number of characters printed per output line.
const LineSize = 100

// barWidth is the number of ticks in a full progress bar.
const barWidth = 50

// Reporter receives console events from sessions and the script host.
type Reporter interface {
	// BeginLine starts a one-line component, such as an EXEC.
	BeginLine(title, body string)

	// BeginProgress starts a component with a progress bar.
	BeginProgress(title, body, barTitle string)

	// SetProgress moves the progress bar to percent (0-100).
	SetProgress(percent float32) error

	// UpdateBarTitle replaces the text after the progress bar.
	UpdateBarTitle(text string) error

	// Complete finishes the current progress component.
	Complete() error

	// Error reports a failure of the current component.
	Error(text string)

	// PrintLine prints script output under the current component.
	PrintLine(text string)

	// PrintReadPrompt asks the user for input.
	PrintReadPrompt(text string)
}

// InvalidStateTransitionError is returned when an operation does not apply
// to the current component.
type InvalidStateTransitionError struct {
	Op    string
	State string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("console: %s is not valid in %s state", e.Op, e.State)
}

// state is the component currently on screen.
type state interface {
	isState()
}

// lineState is a one-line component.
type lineState struct {
	title string
	body  string
}

func (*lineState) isState() {}

// progressState is a component with a progress bar on its second line.
type progressState struct {
	title    string
	body     string
	barTitle string
	ticks    int

	// drawn is the width of the last rendered bar line.
	drawn int
}

func (*progressState) isState() {}

// Console is the default renderer.
type Console struct {
	w        io.Writer
	useColor bool

	current state
}

// New creates a new console writing to w.
func New(w io.Writer) *Console {
	return &Console{
		w:        w,
		useColor: true,
		current:  &lineState{title: "-", body: "-"},
	}
}

// SetColor enables or disables color output.
func (c *Console) SetColor(enabled bool) {
	c.useColor = enabled
}

// color returns the string wrapped in color codes if enabled.
func (c *Console) color(code, s string) string {
	if !c.useColor {
		return s
	}
	return code + s + colorReset
}

func (c *Console) stateName() string {
	switch c.current.(type) {
	case *progressState:
		return "progress"
	case *lineState:
		return "line"
	default:
		return "none"
	}
}

// BeginLine prints a title line and makes it the current component.
func (c *Console) BeginLine(title, body string) {
	c.endBar()
	c.printf("%s %s : %s\n", c.color(colorBold, "⊙ |"), c.color(colorBold, title), body)
	c.current = &lineState{title: title, body: body}
}

// BeginProgress prints a title line followed by an empty progress bar.
func (c *Console) BeginProgress(title, body, barTitle string) {
	c.endBar()
	c.printf("%s %s : %s\n", c.color(colorBold, "⊙ |"), c.color(colorBold, title), body)
	p := &progressState{title: title, body: body, barTitle: barTitle}
	c.current = p
	c.drawBar(p)
}

// SetProgress redraws the bar with percent/2 ticks.
func (c *Console) SetProgress(percent float32) error {
	p, ok := c.current.(*progressState)
	if !ok {
		return &InvalidStateTransitionError{Op: "SetProgress", State: c.stateName()}
	}

	ticks := int(percent / 2)
	if ticks < 0 {
		ticks = 0
	}
	if ticks > barWidth {
		ticks = barWidth
	}
	if ticks != p.ticks {
		p.ticks = ticks
		c.drawBar(p)
	}
	return nil
}

// UpdateBarTitle redraws the bar with new trailing text.
func (c *Console) UpdateBarTitle(text string) error {
	p, ok := c.current.(*progressState)
	if !ok {
		return &InvalidStateTransitionError{Op: "UpdateBarTitle", State: c.stateName()}
	}

	p.barTitle = text
	c.drawBar(p)
	return nil
}

// Complete ends the progress bar line. The component becomes a plain line.
func (c *Console) Complete() error {
	p, ok := c.current.(*progressState)
	if !ok {
		return &InvalidStateTransitionError{Op: "Complete", State: c.stateName()}
	}

	c.printf("\n")
	c.current = &lineState{title: p.title, body: p.body}
	return nil
}

// Error prints an error under the current component. A progress component
// is ended first.
func (c *Console) Error(text string) {
	c.endBar()
	c.printf("  | %s\n \n", c.color(colorRed, "ERROR: "+text))
}

// PrintLine prints text wrapped at LineSize characters. An open progress bar
// is redrawn below the text.
func (c *Console) PrintLine(text string) {
	p, inBar := c.current.(*progressState)
	if inBar {
		c.printf("\n")
	}

	for _, line := range wrap(text, LineSize) {
		c.printf("  | -> %s\n", line)
	}

	if inBar {
		p.drawn = 0
		c.drawBar(p)
	}
}

// PrintReadPrompt prints an input prompt without a trailing newline.
func (c *Console) PrintReadPrompt(text string) {
	c.printf("  | <- %s", text)
}

// drawBar renders the bar line in place.
func (c *Console) drawBar(p *progressState) {
	line := fmt.Sprintf("  | [%s%s] %s",
		c.color(colorGreen, strings.Repeat("#", p.ticks)),
		strings.Repeat(" ", barWidth-p.ticks),
		p.barTitle)

	// Blank out leftovers of a longer previous line
	width := len(line)
	if pad := p.drawn - width; pad > 0 {
		line += strings.Repeat(" ", pad)
	}
	p.drawn = width

	c.printf("\r%s", line)
}

// endBar closes an open progress component with a newline.
func (c *Console) endBar() {
	if p, ok := c.current.(*progressState); ok {
		c.printf("\n")
		c.current = &lineState{title: p.title, body: p.body}
	}
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.w, format, args...)
}

// wrap splits text into chunks of at most n characters.
func wrap(text string, n int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return []string{""}
	}

	var lines []string
	for len(runes) > n {
		lines = append(lines, string(runes[:n]))
		runes = runes[n:]
	}
	return append(lines, string(runes))
}

// Ensure Console implements Reporter.
var _ Reporter = (*Console)(nil)
