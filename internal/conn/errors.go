package conn

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send while no link is up.
	ErrNotConnected = errors.New("not connected")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("connection closed")
	// ErrSendQueueFull means the write pump fell behind; the link is dropped.
	ErrSendQueueFull = errors.New("send queue full")
)

// Fault is a transport-level failure. The Manager turns every fault into a
// disconnected event; it never reaches callers as a returned error.
type Fault struct {
	Op  string
	Err error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %v", f.Op, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// ExhaustedError is reported once the retry budget is spent.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("connectivity exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}
