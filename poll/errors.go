package poll

import (
	"errors"
	"fmt"

	"github.com/fzft/go-uthread-io/fiber"
)

var (
	ErrInvalidFD      = errors.New("poll: descriptor must be positive")
	ErrClosing        = errors.New("poll: descriptor is closing")
	ErrConcurrentPoll = errors.New("poll: another goroutine is already polling")
	ErrBackendClosed  = errors.New("poll: backend closed")
)

// RegistrationError reports a backend register or deregister failure for a
// single descriptor.
type RegistrationError struct {
	Op  string
	FD  int
	Err error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("poll: %s fd %d: %v", e.Op, e.FD, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// ConcurrentWaiterError is returned by Block when the requested direction
// already has a fiber waiting on it.
type ConcurrentWaiterError struct {
	FD     int
	Read   bool
	Waiter fiber.ID
	Caller fiber.ID
}

func (e *ConcurrentWaiterError) Error() string {
	return fmt.Sprintf("poll: fd %d %s: fiber %d already waiting, fiber %d rejected",
		e.FD, direction(e.Read), e.Waiter, e.Caller)
}

func direction(isRead bool) string {
	if isRead {
		return "read"
	}
	return "write"
}
