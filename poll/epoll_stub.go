//go:build !linux

package poll

import "errors"

const DefaultMaxEvents = 128

// Epoll is only available on linux.
type Epoll struct{}

func NewEpoll(maxEvents int) (*Epoll, error) {
	return nil, errors.New("poll: epoll backend is not supported on this platform")
}

func (e *Epoll) Register(fd int, pd *PollData) error { return ErrBackendClosed }
func (e *Epoll) Deregister(fd int) error             { return ErrBackendClosed }
func (e *Epoll) Wait(msec int, d Dispatcher) error   { return ErrBackendClosed }
func (e *Epoll) Wake() error                         { return ErrBackendClosed }
func (e *Epoll) Close() error                        { return nil }
func (e *Epoll) Len() int                            { return 0 }
