// Package link carries raw packet bytes between the host and the target.
package link

import (
	"errors"
	"time"
)

var (
	ErrTimeout = errors.New("link: read timed out")
	ErrClosed  = errors.New("link: port closed")
)

// Port is a full-duplex byte channel to the target. Writes come from one
// goroutine and reads from one goroutine; the two may run concurrently.
type Port interface {
	Write(p []byte) (int, error)
	// ReadFull fills buf or fails with ErrTimeout once timeout elapses. The
	// returned count includes bytes read before a failure.
	ReadFull(buf []byte, timeout time.Duration) (int, error)
	// Drain discards incoming bytes until none arrive for quiet.
	Drain(quiet time.Duration) (int, error)
	// Baud is the configured line rate; zero for links without one.
	Baud() int
	Close() error
}
