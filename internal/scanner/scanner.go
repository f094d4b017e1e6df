// Package scanner detects the end of a command's output in a shell stream
// by matching a prompt pattern against the text read so far.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"unicode/utf8"
)

// ErrTimeout is returned by Stream.Scan when the context expires before the
// prompt appears.
var ErrTimeout = errors.New("timed out waiting for prompt")

// ErrClosed is returned by Stream.Scan after Close.
var ErrClosed = errors.New("stream closed")

// Scanner accumulates decoded shell output one byte at a time and reports
// when the prompt pattern first matches.
type Scanner struct {
	prompt     *regexp.Regexp
	skip       int
	withPrompt bool

	// out holds the decoded text, pending the bytes of an incomplete rune.
	out     []byte
	pending []byte
	done    bool
	result  string
}

// New creates a scanner for the given prompt. skip is the number of leading
// bytes dropped from the result, normally the echoed command and its CR LF.
// When withPrompt is true the matched prompt is kept in the result.
func New(prompt *regexp.Regexp, skip int, withPrompt bool) *Scanner {
	if skip < 0 {
		skip = 0
	}
	return &Scanner{
		prompt:     prompt,
		skip:       skip,
		withPrompt: withPrompt,
	}
}

// Feed consumes one byte. It returns the extracted output and true once the
// prompt has matched; further calls return the same result.
func (s *Scanner) Feed(b byte) (string, bool) {
	if s.done {
		return s.result, true
	}

	s.pending = append(s.pending, b)

	for len(s.pending) > 0 && utf8.FullRune(s.pending) {
		r, size := utf8.DecodeRune(s.pending)
		if r == utf8.RuneError && size == 1 {
			s.out = utf8.AppendRune(s.out, utf8.RuneError)
		} else {
			s.out = append(s.out, s.pending[:size]...)
		}
		s.pending = s.pending[size:]

		if loc := s.prompt.FindIndex(s.out); loc != nil {
			s.finish(loc[0])
			return s.result, true
		}
	}

	return "", false
}

// Text returns everything decoded so far.
func (s *Scanner) Text() string {
	return string(s.out)
}

func (s *Scanner) finish(matchStart int) {
	end := len(s.out)
	if !s.withPrompt {
		end = matchStart
	}

	start := s.skip
	if start > len(s.out) {
		start = len(s.out)
	}
	// Never cut a rune in half
	for start < len(s.out) && !utf8.RuneStart(s.out[start]) {
		start++
	}

	if start < end {
		s.result = string(s.out[start:end])
	}
	s.done = true
	s.pending = nil
}

// Read consumes r one byte at a time until prompt matches and returns the
// extracted output. Bytes after the prompt are left unread.
func Read(r io.Reader, prompt *regexp.Regexp, skip int, withPrompt bool) (string, error) {
	s := New(prompt, skip, withPrompt)
	buf := make([]byte, 1)

	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("reading shell output: %w", err)
		}
		if out, ok := s.Feed(buf[0]); ok {
			return out, nil
		}
	}
}

// Stream pumps a shell's output in the background so scans can be bounded
// by a context without losing the bytes that follow a prompt.
type Stream struct {
	chunks chan []byte
	err    error
	buf    []byte

	done    chan struct{}
	once    sync.Once
	stopped chan struct{}
}

// NewStream starts reading r until it returns an error or the stream is
// closed.
func NewStream(r io.Reader) *Stream {
	s := &Stream{
		chunks:  make(chan []byte, 16),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(s.stopped)
		for {
			buf := make([]byte, 4096)
			n, err := r.Read(buf)
			if n > 0 {
				select {
				case s.chunks <- buf[:n]:
				case <-s.done:
					return
				}
			}
			if err != nil {
				s.err = err
				close(s.chunks)
				return
			}
		}
	}()

	return s
}

// Close stops the pump. A Read already in progress returns only when the
// underlying reader is closed.
func (s *Stream) Close() {
	s.once.Do(func() { close(s.done) })
}

// Scan feeds buffered output into a new Scanner until the prompt matches.
// Bytes after the match stay buffered for the next scan. When ctx expires the
// bytes consumed so far are dropped and ErrTimeout is returned.
func (s *Stream) Scan(ctx context.Context, prompt *regexp.Regexp, skip int, withPrompt bool) (string, error) {
	sc := New(prompt, skip, withPrompt)

	for {
		for len(s.buf) > 0 {
			b := s.buf[0]
			s.buf = s.buf[1:]
			if out, ok := sc.Feed(b); ok {
				return out, nil
			}
		}

		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				return "", fmt.Errorf("reading shell output: %w", s.err)
			}
			s.buf = chunk
		case <-s.done:
			return "", ErrClosed
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
	}
}
