// Package transport supplies the pluggable command-stream and stop-stream
// collaborators spec.md §1 treats as external to the core: a serialized
// TCP accept loop today, with room for a PTY/serial adapter satisfying the
// same rsp.Stream interface.
package transport

import "sync"

// Stopper is a one-shot, broadcast-once stop signal: closing its channel
// is spec.md §5's "writing any byte to the stop stream", translated to an
// idiomatic Go signal instead of a pipe fd.
type Stopper struct {
	once sync.Once
	ch   chan struct{}
}

// NewStopper returns a Stopper ready to arm a session.
func NewStopper() *Stopper {
	return &Stopper{ch: make(chan struct{})}
}

// Signal requests termination. Safe to call more than once or from
// multiple goroutines.
func (s *Stopper) Signal() {
	s.once.Do(func() { close(s.ch) })
}

// C is the stop_stream a Session selects on.
func (s *Stopper) C() <-chan struct{} {
	return s.ch
}
