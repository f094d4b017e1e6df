package console

import "sync"

// Shared serializes access to one Reporter across concurrent sessions. Each
// call to Do is one logical update; callers must not block on I/O inside it.
type Shared struct {
	mu sync.Mutex
	r  Reporter
}

// NewShared wraps r.
func NewShared(r Reporter) *Shared {
	return &Shared{r: r}
}

// Do runs fn with exclusive access to the reporter.
func (s *Shared) Do(fn func(r Reporter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.r)
}

// Line begins a one-line component.
func (s *Shared) Line(title, body string) {
	_ = s.Do(func(r Reporter) error {
		r.BeginLine(title, body)
		return nil
	})
}

// Error reports a failure of the current component.
func (s *Shared) Error(text string) {
	_ = s.Do(func(r Reporter) error {
		r.Error(text)
		return nil
	})
}

// LineError begins a one-line component and immediately fails it.
func (s *Shared) LineError(title, body, text string) {
	_ = s.Do(func(r Reporter) error {
		r.BeginLine(title, body)
		r.Error(text)
		return nil
	})
}

// Print prints script output.
func (s *Shared) Print(text string) {
	_ = s.Do(func(r Reporter) error {
		r.PrintLine(text)
		return nil
	})
}
