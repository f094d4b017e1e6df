package ssh

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/pkg/sftp"
	gossh "golang.org/x/crypto/ssh"
)

// scpFile streams one file to "scp -t" running on the target.
type scpFile struct {
	sess   *gossh.Session
	stdin  io.WriteCloser
	acks   *bufio.Reader
	size   int64
	sent   int64
	closed bool
}

// openSCPFile starts the remote scp sink and announces the file.
func openSCPFile(client *gossh.Client, dest string, mode os.FileMode, size int64) (*scpFile, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, err
	}

	if err := sess.Start("scp -qt " + shellQuote(dest)); err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to start scp: %w", err)
	}

	f := &scpFile{
		sess:  sess,
		stdin: stdin,
		acks:  bufio.NewReader(stdout),
		size:  size,
	}

	// The sink acknowledges once it is ready, then again after the header
	if err := f.readAck(); err != nil {
		f.abort()
		return nil, err
	}
	if _, err := fmt.Fprintf(stdin, "C%04o %d %s\n", mode.Perm(), size, path.Base(dest)); err != nil {
		f.abort()
		return nil, err
	}
	if err := f.readAck(); err != nil {
		f.abort()
		return nil, err
	}

	return f, nil
}

func (f *scpFile) Write(p []byte) (int, error) {
	if f.sent+int64(len(p)) > f.size {
		return 0, fmt.Errorf("write exceeds announced size %d", f.size)
	}
	n, err := f.stdin.Write(p)
	f.sent += int64(n)
	return n, err
}

// Close finishes the transfer and waits for the remote scp to exit.
func (f *scpFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	if f.sent != f.size {
		f.abort()
		return fmt.Errorf("short transfer: sent %d of %d bytes", f.sent, f.size)
	}

	if _, err := f.stdin.Write([]byte{0}); err != nil {
		f.abort()
		return err
	}
	if err := f.readAck(); err != nil {
		f.abort()
		return err
	}

	f.stdin.Close()
	if err := f.sess.Wait(); err != nil {
		return fmt.Errorf("scp exited: %w", err)
	}
	return nil
}

// readAck reads one scp status byte; 1 and 2 carry a message line.
func (f *scpFile) readAck() error {
	b, err := f.acks.ReadByte()
	if err != nil {
		return fmt.Errorf("scp: %w", err)
	}
	if b == 0 {
		return nil
	}

	msg, _ := f.acks.ReadString('\n')
	return fmt.Errorf("scp: %s", strings.TrimSpace(msg))
}

func (f *scpFile) abort() {
	f.closed = true
	f.stdin.Close()
	f.sess.Close()
}

// openSFTPFile creates or truncates dest and applies mode.
func openSFTPFile(c *sftp.Client, dest string, mode os.FileMode) (*sftp.File, error) {
	f, err := c.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return nil, err
	}
	if err := f.Chmod(mode); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// shellQuote quotes s for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
