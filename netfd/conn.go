// Package netfd wraps non-blocking sockets for fibers. Whenever the kernel
// answers EAGAIN the calling fiber is parked on the reactor until the
// descriptor becomes ready again.
package netfd

import (
	"errors"

	"github.com/fzft/go-uthread-io/fiber"
	"golang.org/x/sys/unix"
)

// Conn is a stream connection driven by fibers.
type Conn interface {
	// Read reads into p, parking f until data is available. A closed peer
	// yields io.EOF.
	Read(f *fiber.Fiber, p []byte) (int, error)

	// Write writes all of p, parking f whenever the socket buffer is full.
	Write(f *fiber.Fiber, p []byte) (int, error)

	// Close releases fibers parked on the connection. The socket is closed once
	// no Read or Write is still using it.
	Close() error

	Fd() int
	Ip() string
}

// IsTemporaryError checks if the error is temporary, e.g., EAGAIN or EWOULDBLOCK.
func IsTemporaryError(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
