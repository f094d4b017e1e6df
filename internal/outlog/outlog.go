// Package outlog appends executed commands and their output to a log file.
package outlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// separator ends every command block.
var separator = strings.Repeat("-", 50)

// Logger writes the command log. It is safe for concurrent use; a nil
// *Logger discards everything.
type Logger struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// Open opens path for appending, creating it if needed.
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return &Logger{w: f, c: f}, nil
}

// New creates a logger writing to w.
func New(w io.Writer) *Logger {
	return &Logger{w: w}
}

// StartScript marks the start of a script run.
func (l *Logger) StartScript(name string) {
	l.printf("========== START SCRIPT - %s ==========\n", name)
}

// EndScript marks the end of a script run.
func (l *Logger) EndScript(name string) {
	l.printf("========== END SCRIPT - %s ==========\n", name)
}

// StartBlock marks the start of a command block. Blocks are only delimited
// at their end.
func (l *Logger) StartBlock() {}

// EndBlock writes the block separator.
func (l *Logger) EndBlock() {
	l.printf("%s\n", separator)
}

// LogCommand records a command sent to a shell.
func (l *Logger) LogCommand(cmd string) {
	l.printf("<< %s\n", cmd)
}

// LogOutput records the output of a command.
func (l *Logger) LogOutput(out string) {
	l.printf(">> %s\n", out)
}

// Close closes the underlying file, if any.
func (l *Logger) Close() error {
	if l == nil || l.c == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c.Close()
}

func (l *Logger) printf(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}
