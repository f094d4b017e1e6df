package local

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// Terminal settings for PTY shells.
const (
	TermType   = "ansi"
	TermWidth  = 100
	TermHeight = 100
)

// PTYShell is a process attached to a pseudo-terminal.
type PTYShell struct {
	cmd  *exec.Cmd
	tty  *os.File
	once sync.Once
}

// StartPTY starts cmd with a PTY of TermWidth x TermHeight.
func StartPTY(cmd *exec.Cmd) (*PTYShell, error) {
	tty, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: TermHeight, Cols: TermWidth})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}
	return &PTYShell{cmd: cmd, tty: tty}, nil
}

func (s *PTYShell) Read(p []byte) (int, error) {
	return s.tty.Read(p)
}

func (s *PTYShell) Write(p []byte) (int, error) {
	return s.tty.Write(p)
}

// Close closes the terminal and stops the process.
func (s *PTYShell) Close() error {
	var err error
	s.once.Do(func() {
		err = s.tty.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
			_ = s.cmd.Wait()
		}
	})
	return err
}
