//go:build !linux

package netfd

import (
	"errors"
	"net"

	"github.com/fzft/go-uthread-io/fiber"
	"github.com/fzft/go-uthread-io/poll"
)

var errUnsupported = errors.New("netfd: not supported on this platform")

func NewConn(r *poll.Reactor, sysfd int, ip string) (Conn, error) {
	return nil, errUnsupported
}

type Listener struct{}

func Listen(r *poll.Reactor, addr string) (*Listener, error) {
	return nil, errUnsupported
}

func (l *Listener) Accept(f *fiber.Fiber) (Conn, error) { return nil, errUnsupported }
func (l *Listener) Addr() net.Addr                       { return &net.TCPAddr{} }
func (l *Listener) Close() error                         { return nil }
func (l *Listener) Fd() int                              { return -1 }
